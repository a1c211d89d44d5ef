package wire

import (
	"crypto/sha256"
	"errors"
	"unicode/utf8"
)

// Payload kinds carried in the metadata messages.
type PayloadType uint8

const (
	PayloadFile PayloadType = 0
)

const (
	// MaxCodeSize bounds a code phrase: its length travels as one byte.
	MaxCodeSize = 255

	// HashSize is the SHA-256 trailer appended to every chunk.
	HashSize = sha256.Size
)

var (
	ErrCodeTooLong   = errors.New("wire: code phrase exceeds 255 bytes")
	ErrCodeNotUTF8   = errors.New("wire: code phrase is not valid UTF-8")
	ErrNameTooLong   = errors.New("wire: file name exceeds 255 bytes")
	ErrChunkTooSmall = errors.New("wire: chunk body shorter than hash trailer")
)

// CodePhrase names a pending transfer.
type CodePhrase struct {
	Code string
}

// FileData describes the advertised file.
type FileData struct {
	FileSize uint64
	FileName string
}

// PreMetadata is the client's advertise (Send) or request (RequestReceive)
// manifest.
type PreMetadata struct {
	PayloadType PayloadType
	CodePhrase  CodePhrase
	FileData    FileData
}

// PostMetadata is the broker's acceptance manifest.
type PostMetadata struct {
	PayloadType  PayloadType
	MaxChunkSize uint64
	CodePhrase   CodePhrase
	FileData     FileData
}

func pushCodePhrase(m *Message, cp CodePhrase) error {
	if len(cp.Code) > MaxCodeSize {
		return ErrCodeTooLong
	}
	if !utf8.ValidString(cp.Code) {
		return ErrCodeNotUTF8
	}
	m.PushBytes([]byte(cp.Code))
	m.PushU8(uint8(len(cp.Code)))
	return nil
}

func popCodePhrase(m *Message) (CodePhrase, error) {
	n, err := m.PopU8()
	if err != nil {
		return CodePhrase{}, err
	}
	code, err := m.PopBytes(int(n))
	if err != nil {
		return CodePhrase{}, err
	}
	return CodePhrase{Code: string(code)}, nil
}

func pushFileData(m *Message, fd FileData) error {
	if len(fd.FileName) > MaxCodeSize {
		return ErrNameTooLong
	}
	m.PushU64(fd.FileSize)
	m.PushBytes([]byte(fd.FileName))
	m.PushU8(uint8(len(fd.FileName)))
	return nil
}

func popFileData(m *Message) (FileData, error) {
	n, err := m.PopU8()
	if err != nil {
		return FileData{}, err
	}
	name, err := m.PopBytes(int(n))
	if err != nil {
		return FileData{}, err
	}
	size, err := m.PopU64()
	if err != nil {
		return FileData{}, err
	}
	return FileData{FileSize: size, FileName: string(name)}, nil
}

// EncodePreMetadata builds a message of the given id carrying pre.
func EncodePreMetadata(id MsgID, pre PreMetadata) (Message, error) {
	m := Message{ID: id}
	m.PushU8(uint8(pre.PayloadType))
	if err := pushFileData(&m, pre.FileData); err != nil {
		return Message{}, err
	}
	if err := pushCodePhrase(&m, pre.CodePhrase); err != nil {
		return Message{}, err
	}
	return m, nil
}

// DecodePreMetadata consumes the message body. Fields come off the tail in
// reverse push order: code phrase, file data, payload type.
func DecodePreMetadata(m *Message) (PreMetadata, error) {
	var pre PreMetadata
	var err error
	if pre.CodePhrase, err = popCodePhrase(m); err != nil {
		return PreMetadata{}, err
	}
	if pre.FileData, err = popFileData(m); err != nil {
		return PreMetadata{}, err
	}
	pt, err := m.PopU8()
	if err != nil {
		return PreMetadata{}, err
	}
	pre.PayloadType = PayloadType(pt)
	return pre, nil
}

// EncodePostMetadata builds a message of the given id carrying post.
func EncodePostMetadata(id MsgID, post PostMetadata) (Message, error) {
	m := Message{ID: id}
	m.PushU8(uint8(post.PayloadType))
	m.PushU64(post.MaxChunkSize)
	if err := pushFileData(&m, post.FileData); err != nil {
		return Message{}, err
	}
	if err := pushCodePhrase(&m, post.CodePhrase); err != nil {
		return Message{}, err
	}
	return m, nil
}

// DecodePostMetadata consumes the message body.
func DecodePostMetadata(m *Message) (PostMetadata, error) {
	var post PostMetadata
	var err error
	if post.CodePhrase, err = popCodePhrase(m); err != nil {
		return PostMetadata{}, err
	}
	if post.FileData, err = popFileData(m); err != nil {
		return PostMetadata{}, err
	}
	if post.MaxChunkSize, err = m.PopU64(); err != nil {
		return PostMetadata{}, err
	}
	pt, err := m.PopU8()
	if err != nil {
		return PostMetadata{}, err
	}
	post.PayloadType = PayloadType(pt)
	return post, nil
}

// EncodeCodePhrase builds a message of the given id carrying only cp.
func EncodeCodePhrase(id MsgID, cp CodePhrase) (Message, error) {
	m := Message{ID: id}
	if err := pushCodePhrase(&m, cp); err != nil {
		return Message{}, err
	}
	return m, nil
}

// DecodeCodePhrase consumes the message body.
func DecodeCodePhrase(m *Message) (CodePhrase, error) {
	return popCodePhrase(m)
}

// NewChunk builds a Chunk message: raw bytes followed by their SHA-256
// digest. The digest covers only the data, not itself.
func NewChunk(data []byte) Message {
	sum := sha256.Sum256(data)
	m := Message{ID: MsgChunk, Body: make([]byte, 0, len(data)+HashSize)}
	m.PushBytes(data)
	m.PushBytes(sum[:])
	return m
}

// SplitChunk separates a chunk body into data and its expected digest.
// The returned data slice aliases body.
func SplitChunk(body []byte) (data, digest []byte, err error) {
	if len(body) < HashSize {
		return nil, nil, ErrChunkTooSmall
	}
	off := len(body) - HashSize
	return body[:off], body[off:], nil
}

// VerifyChunk recomputes the digest over data and compares it to the
// trailer.
func VerifyChunk(data, digest []byte) bool {
	sum := sha256.Sum256(data)
	if len(digest) != HashSize {
		return false
	}
	for i := range sum {
		if sum[i] != digest[i] {
			return false
		}
	}
	return true
}
