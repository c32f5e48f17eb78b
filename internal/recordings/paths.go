package recordings

import (
	"path/filepath"

	"github.com/google/uuid"
)

// Paths locates the working files and the uploaded object of one recording.
type Paths struct {
	Opus      string
	H264      string
	MP4       string
	ObjectKey string
}

// PathsFor returns the paths of recording id under dir.
func PathsFor(dir string, id uuid.UUID) Paths {
	name := id.String()
	return Paths{
		Opus:      filepath.Join(dir, name+".opus"),
		H264:      filepath.Join(dir, name+".h264"),
		MP4:       filepath.Join(dir, name+".mp4"),
		ObjectKey: ObjectKey(id),
	}
}

// ObjectKey is the storage key of a recording's packaged MP4.
func ObjectKey(id uuid.UUID) string {
	return id.String() + ".mp4"
}
