package chat

// System announcements are ordinary messages authored by the acting user;
// clients recognize them only by the [SYSTEM] content convention. The strings
// below are wire contract carried over from the original deployment and must
// not be reworded.

// DeletedPlaceholder replaces the content of soft-deleted messages in every
// read path; the real content never leaves the server once a message is
// deleted.
const DeletedPlaceholder = "[message supprimé]"

func JoinAnnouncement(username string) string {
	return "[SYSTEM] " + username + " a rejoint le salon."
}

func BanAnnouncement(username string) string {
	return "[SYSTEM] " + username + " a été banni du salon."
}

func UnbanAnnouncement(username string) string {
	return "[SYSTEM] " + username + " a été débanni du salon."
}

func ModAnnouncement(username string) string {
	return "[SYSTEM] " + username + " est maintenant modérateur."
}

func UnmodAnnouncement(username string) string {
	return "[SYSTEM] " + username + " n'est plus modérateur."
}
