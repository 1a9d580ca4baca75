package internal

import "lanchat/internal/models"

// FileIndex maps stored blob names to the display names they were uploaded
// with. Lookups for unknown names fall back to the stored name.
//
// Not safe for concurrent use; the engine serializes access.
type FileIndex struct {
	names map[string]string
}

func NewFileIndex() *FileIndex {
	return &FileIndex{names: make(map[string]string)}
}

// Rebuild replaces the index with the file messages found in history.
func (idx *FileIndex) Rebuild(history []models.Message) {
	idx.names = make(map[string]string, len(history))
	for _, msg := range history {
		if msg.Type == models.TypeFile && msg.StoredFileName != "" {
			idx.Record(msg.StoredFileName, msg.FileName)
		}
	}
}

func (idx *FileIndex) Record(stored, display string) {
	if stored == "" {
		return
	}
	if display == "" {
		display = stored
	}
	idx.names[stored] = display
}

func (idx *FileIndex) Forget(stored string) {
	delete(idx.names, stored)
}

func (idx *FileIndex) DisplayName(stored string) string {
	if display, ok := idx.names[stored]; ok {
		return display
	}
	return stored
}

func (idx *FileIndex) Len() int {
	return len(idx.names)
}
