package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"io"
	"math"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"medist/api/internal/analysis"
	"medist/api/internal/upload"
)

var errTooLarge = errors.New("file is too large")

// busy replies and reports true when the chat already has an analysis running.
func (r *Router) busy(cid int64) bool {
	c, err := r.controller(cid)
	if err != nil {
		r.send(cid, "❌ "+err.Error())
		return true
	}
	if c.State().Phase == upload.Analyzing {
		r.send(cid, stillAnalyzingText)
		return true
	}
	return false
}

func (r *Router) acceptPhoto(msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	ph := msg.Photo[len(msg.Photo)-1]
	if msg.MediaGroupID == "" && r.busy(cid) {
		return
	}
	data, err := r.fetchFile(ph.FileID, int64(ph.FileSize))
	if err != nil {
		r.sendFetchError(cid, err)
		return
	}
	if msg.MediaGroupID != "" {
		r.addToBatch(cid, msg.MediaGroupID, data)
		return
	}
	r.submit(cid, analysis.Document{Name: "photo.jpg", MIMEType: "image/jpeg", Data: data})
}

func (r *Router) acceptDocument(msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	d := msg.Document
	if r.busy(cid) {
		return
	}
	data, err := r.fetchFile(d.FileID, int64(d.FileSize))
	if err != nil {
		r.sendFetchError(cid, err)
		return
	}
	r.submit(cid, analysis.Document{Name: d.FileName, MIMEType: d.MimeType, Data: data})
}

func (r *Router) submit(cid int64, doc analysis.Document) {
	c, err := r.controller(cid)
	if err != nil {
		r.send(cid, "❌ "+err.Error())
		return
	}
	if !c.Submit(doc) {
		r.send(cid, stillAnalyzingText)
		return
	}
	r.log().Info("document submitted", zap.Int64("chat", cid), zap.String("mime", doc.MIMEType), zap.Int("bytes", len(doc.Data)))
	r.send(cid, "⏳ Analyzing your document…")
}

func (r *Router) sendFetchError(cid int64, err error) {
	if errors.Is(err, errTooLarge) {
		r.send(cid, fmt.Sprintf("❌ The file is larger than %d MB.", r.maxUpload()>>20))
		return
	}
	r.log().Warn("telegram file download failed", zap.Int64("chat", cid), zap.Error(err))
	r.send(cid, "❌ Could not download the file. Please send it again.")
}

func (r *Router) maxUpload() int64 {
	if r.MaxUploadBytes > 0 {
		return r.MaxUploadBytes
	}
	return 10 << 20
}

func (r *Router) fetchFile(fileID string, size int64) ([]byte, error) {
	limit := r.maxUpload()
	if size > limit {
		return nil, errTooLarge
	}
	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	fetch := r.Fetch
	if fetch == nil {
		fetch = download
	}
	return fetch(ctx, url, limit)
}

// addToBatch collects album pages; after a quiet period they are stitched
// into one image and submitted.
func (r *Router) addToBatch(cid int64, groupID string, img []byte) {
	bi, _ := r.state.batches.LoadOrStore(groupID, &photoBatch{ChatID: cid, MediaGroupID: groupID})
	b := bi.(*photoBatch)

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.images) >= maxPages {
		return
	}
	b.images = append(b.images, img)
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(debounce, func() { r.processBatch(groupID) })
}

func (r *Router) processBatch(groupID string) {
	bi, ok := r.state.batches.LoadAndDelete(groupID)
	if !ok {
		return
	}
	b := bi.(*photoBatch)

	b.mu.Lock()
	images := append([][]byte(nil), b.images...)
	cid := b.ChatID
	b.mu.Unlock()

	switch len(images) {
	case 0:
		return
	case 1:
		r.submit(cid, analysis.Document{Name: "photo.jpg", MIMEType: "image/jpeg", Data: images[0]})
		return
	}
	merged, err := stitchPages(images)
	if err != nil {
		r.log().Warn("album stitch failed", zap.Int64("chat", cid), zap.Error(err))
		r.send(cid, "❌ Could not combine the album pages. Send them as one PDF instead.")
		return
	}
	r.submit(cid, analysis.Document{Name: fmt.Sprintf("album-%d-pages.jpg", len(images)), MIMEType: "image/jpeg", Data: merged})
}

// stitchPages stacks album pages top to bottom, centred on a white canvas,
// shrinks the result to at most maxPixels and encodes it as JPEG.
func stitchPages(pages [][]byte) ([]byte, error) {
	imgs := make([]image.Image, 0, len(pages))
	var w, h int
	for i, p := range pages {
		img, _, err := image.Decode(bytes.NewReader(p))
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		b := img.Bounds()
		w = max(w, b.Dx())
		h += b.Dy()
		imgs = append(imgs, img)
	}
	if w == 0 || h == 0 {
		return nil, errors.New("album pages are empty")
	}

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	y := 0
	for _, img := range imgs {
		b := img.Bounds()
		x := (w - b.Dx()) / 2
		draw.Draw(canvas, image.Rect(x, y, x+b.Dx(), y+b.Dy()), img, b.Min, draw.Over)
		y += b.Dy()
	}

	out := canvas
	if w*h > maxPixels {
		k := math.Sqrt(float64(maxPixels) / float64(w*h))
		out = shrink(canvas, max(1, int(float64(w)*k)), max(1, int(float64(h)*k)))
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// shrink resamples src to w x h, nearest neighbour.
func shrink(src *image.RGBA, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	sw, sh := src.Bounds().Dx(), src.Bounds().Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.SetRGBA(x, y, src.RGBAAt(x*sw/w, y*sh/h))
		}
	}
	return dst
}

func download(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errTooLarge
	}
	return data, nil
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}
