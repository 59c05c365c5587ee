package conversation

var apologies = map[string]string{
	"en": "Sorry, I ran into a problem while processing your request. Please try again later.",
	"de": "Entschuldigung, ich hatte einen Fehler beim Verarbeiten deiner Anfrage. Bitte versuche es später noch einmal.",
}

// Apology returns the user-facing failure message for a base language,
// falling back to English.
func Apology(lang string) string {
	if msg, ok := apologies[lang]; ok {
		return msg
	}
	return apologies["en"]
}
