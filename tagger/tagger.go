// Package tagger writes ID3v2 metadata into finished MP3 files.
package tagger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bogem/id3v2/v2"
)

// Tags are the optional fields a caller may supply. Cover is raw image bytes
// with CoverMIME as its type.
type Tags struct {
	Title     string
	Artist    string
	Genre     string
	Cover     []byte
	CoverMIME string
}

// Empty reports whether there is nothing worth tagging.
func (t Tags) Empty() bool {
	return strings.TrimSpace(t.Title) == "" &&
		strings.TrimSpace(t.Artist) == "" &&
		strings.TrimSpace(t.Genre) == "" &&
		len(t.Cover) == 0
}

// Tagger embeds tags in place.
type Tagger struct {
	comment string
	now     func() time.Time
}

func New(comment string) *Tagger {
	return &Tagger{comment: comment, now: time.Now}
}

// Write tags path. Missing optional fields are omitted; the year is the
// current calendar year and the comment is always written.
func (tg *Tagger) Write(path string, tags Tags) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("open %s for tagging: %w", path, err)
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	if v := strings.TrimSpace(tags.Title); v != "" {
		tag.SetTitle(v)
	}
	if v := strings.TrimSpace(tags.Artist); v != "" {
		tag.SetArtist(v)
	}
	if v := strings.TrimSpace(tags.Genre); v != "" {
		tag.SetGenre(v)
	}
	tag.SetYear(strconv.Itoa(tg.now().Year()))
	tag.AddCommentFrame(id3v2.CommentFrame{
		Encoding:    id3v2.EncodingUTF8,
		Language:    "eng",
		Description: "",
		Text:        tg.comment,
	})

	if len(tags.Cover) > 0 {
		mime := tags.CoverMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    mime,
			PictureType: id3v2.PTFrontCover,
			Description: "Cover",
			Picture:     tags.Cover,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("save tags to %s: %w", path, err)
	}
	return nil
}
