package storage

import "path"

// Layout computes the mailbox-scoped blob paths. Folder names come from
// configuration; the zero values of the optional fields match the defaults the
// rest of the system expects.
type Layout struct {
	Root         string // optional prefix inside the store
	DebugFolder  string // defaults to "debug"
	EmailsFolder string // defaults to "emails"
	HistoryFile  string // defaults to "history.json"
}

func (l Layout) debugFolder() string {
	if l.DebugFolder == "" {
		return "debug"
	}
	return l.DebugFolder
}

func (l Layout) emailsFolder() string {
	if l.EmailsFolder == "" {
		return "emails"
	}
	return l.EmailsFolder
}

// History returns the cursor path for a mailbox folder.
func (l Layout) History(folder string) string {
	file := l.HistoryFile
	if file == "" {
		file = "history.json"
	}
	return path.Join(l.Root, folder, file)
}

// Debug returns the path of a debug artifact for a mailbox folder.
func (l Layout) Debug(folder, name string) string {
	return path.Join(l.Root, folder, l.debugFolder(), name+".json")
}

// Email returns the path of a normalized email record for a mailbox folder.
func (l Layout) Email(folder, messageID string) string {
	return path.Join(l.Root, folder, l.emailsFolder(), messageID+"_email.json")
}
