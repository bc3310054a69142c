/*
imapmove - server-to-server IMAP mailbox migration tool.
Copyright © 2023 imapmove contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package i18n

import "golang.org/x/text/language"

var tables = map[language.Tag]map[string]string{
	language.English: {
		"migration.start":      "Starting migration of %d account pair(s)",
		"pair.start":           "Migrating %s to %s",
		"pair.done":            "Finished migrating %s to %s",
		"connect.src":          "Connecting to source server %s",
		"connect.dst":          "Connecting to destination server %s",
		"auth.src":             "Authenticating %s on the source server",
		"auth.dst":             "Authenticating %s on the destination server",
		"auth.failed":          "Authentication failed for %s",
		"folders.list":         "Found %d folder(s) on the source server",
		"folder.select":        "Processing folder %s",
		"folder.select_failed": "Could not open folder %s, skipping it",
		"folder.create":        "Creating folder %s on the destination server",
		"folder.create_failed": "Could not create folder %s, skipping its messages",
		"folder.empty":         "Folder %s is empty",
		"message.copy":         "Copying message %s to %s",
		"message.exists":       "Message %s already exists in %s, skipping",
		"message.no_id":        "Message has no Message-ID, matching by sender, recipient and date",
		"message.fetch_failed": "Could not download a message, skipping it",
		"overquota":            "The destination mailbox is out of storage, stopping this account",
		"reconnect":            "Connection lost, retrying in %d second(s) (attempt %d of %d)",
		"reconnect.failed":     "Could not re-establish the connection after %d attempt(s)",
		"interrupted":          "Interrupted, shutting down",
		"credentials.missing":  "File %s not found. Copy credentials.json.default to credentials.json and fill in your accounts.",
		"done":                 "Migration finished",
		"tokens.start":         "Generating OAuth2 tokens",
		"tokens.url":           "Open this URL in your browser to authorize %s:",
		"tokens.code":          "Paste the authorization code: ",
		"tokens.saved":         "Token for %s saved to %s",
	},
	language.BrazilianPortuguese: {
		"migration.start":      "Iniciando a migração de %d par(es) de contas",
		"pair.start":           "Migrando %s para %s",
		"pair.done":            "Migração de %s para %s concluída",
		"connect.src":          "Conectando ao servidor de origem %s",
		"connect.dst":          "Conectando ao servidor de destino %s",
		"auth.src":             "Autenticando %s no servidor de origem",
		"auth.dst":             "Autenticando %s no servidor de destino",
		"auth.failed":          "Falha na autenticação de %s",
		"folders.list":         "%d pasta(s) encontrada(s) no servidor de origem",
		"folder.select":        "Processando a pasta %s",
		"folder.select_failed": "Não foi possível abrir a pasta %s, pulando",
		"folder.create":        "Criando a pasta %s no servidor de destino",
		"folder.create_failed": "Não foi possível criar a pasta %s, pulando suas mensagens",
		"folder.empty":         "A pasta %s está vazia",
		"message.copy":         "Copiando a mensagem %s para %s",
		"message.exists":       "A mensagem %s já existe em %s, pulando",
		"message.no_id":        "Mensagem sem Message-ID, comparando por remetente, destinatário e data",
		"message.fetch_failed": "Não foi possível baixar uma mensagem, pulando",
		"overquota":            "A caixa de destino está sem espaço, interrompendo esta conta",
		"reconnect":            "Conexão perdida, tentando novamente em %d segundo(s) (tentativa %d de %d)",
		"reconnect.failed":     "Não foi possível restabelecer a conexão após %d tentativa(s)",
		"interrupted":          "Interrompido, encerrando",
		"credentials.missing":  "Arquivo %s não encontrado. Copie credentials.json.default para credentials.json e preencha suas contas.",
		"done":                 "Migração concluída",
		"tokens.start":         "Gerando tokens OAuth2",
		"tokens.url":           "Abra esta URL no navegador para autorizar %s:",
		"tokens.code":          "Cole o código de autorização: ",
		"tokens.saved":         "Token de %s salvo em %s",
	},
}
