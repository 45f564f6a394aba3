package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

// MaxMediaBytes bounds downloads of flow media.
const MaxMediaBytes = 16 << 20

var errMediaTooLarge = errors.New("whatsapp: media exceeds size limit")

type media struct {
	data     []byte
	mime     string
	kind     whatsmeow.MediaType
	fileName string
}

func fetchMedia(ctx context.Context, hc *http.Client, rawURL string) (*media, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("whatsapp: unsupported media url %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("whatsapp: fetch media: status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: read media: %w", err)
	}
	if len(data) > MaxMediaBytes {
		return nil, errMediaTooLarge
	}
	if len(data) == 0 {
		return nil, errors.New("whatsapp: empty media body")
	}

	mt := mimetype.Detect(data)
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		name = "file" + mt.Extension()
	}
	return &media{
		data:     data,
		mime:     mt.String(),
		kind:     mediaKind(mt),
		fileName: name,
	}, nil
}

// mediaKind picks the upload type. Audio and anything unknown go out as
// documents so the caption is kept.
func mediaKind(mt *mimetype.MIME) whatsmeow.MediaType {
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case m.Is("image/jpeg"), m.Is("image/png"), m.Is("image/webp"):
			return whatsmeow.MediaImage
		case m.Is("video/mp4"), m.Is("video/3gpp"):
			return whatsmeow.MediaVideo
		}
	}
	return whatsmeow.MediaDocument
}

func buildMediaMessage(m *media, up whatsmeow.UploadResponse, caption string) *waE2E.Message {
	switch m.kind {
	case whatsmeow.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(m.mime),
			Caption:       proto.String(caption),
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
		}}
	case whatsmeow.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(m.mime),
			Caption:       proto.String(caption),
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(m.mime),
			FileName:      proto.String(m.fileName),
			Caption:       proto.String(caption),
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
		}}
	}
}
