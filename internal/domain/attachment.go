package domain

// MediaKind is how an attachment is delivered to the destination.
type MediaKind int

const (
	KindDocument MediaKind = iota
	KindPhoto
	KindVideo
)

func (k MediaKind) String() string {
	switch k {
	case KindPhoto:
		return "Photo"
	case KindVideo:
		return "Video"
	default:
		return "Document"
	}
}

// AttachmentDescriptor is a fetched attachment. It only lives for the
// duration of one dispatch.
type AttachmentDescriptor struct {
	Kind     MediaKind
	Size     int64
	FileName string
	Content  []byte
}
