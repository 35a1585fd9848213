package registry

import "strings"

// NormalizePhone extrai o número de telefone de um JID do WhatsApp
// (ex.: "6285179971457:52@s.whatsapp.net") e o formata em E.164 com
// prefixo "+". Entradas sem dígitos retornam vazio.
func NormalizePhone(jid string) string {
	number := jid
	if i := strings.IndexAny(number, ":@"); i >= 0 {
		number = number[:i]
	}

	number = strings.TrimPrefix(number, "+")

	if number == "" {
		return ""
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return ""
		}
	}

	return "+" + number
}
