package qr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/immxrtalbeast/checkin/lib/logger/sl"
	skipqr "github.com/skip2/go-qrcode"
	"golang.org/x/image/draw"
)

var ErrEncoding = errors.New("qr encoding failed")

const (
	DefaultSize      = 512
	DefaultLogoRatio = 0.2
	maxLogoRatio     = 0.3
)

type Options struct {
	// Size is the side of the rendered image in pixels.
	Size int
	// LogoPath points at the venue logo. It is read on every render so a
	// replaced file is picked up without a restart.
	LogoPath string
	// LogoRatio is the logo side relative to the image side.
	LogoRatio float64
}

type Encoder struct {
	size      int
	logoPath  string
	logoRatio float64
	log       *slog.Logger
}

func NewEncoder(opts Options, log *slog.Logger) *Encoder {
	if log == nil {
		log = slog.Default()
	}
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.LogoRatio <= 0 || opts.LogoRatio > maxLogoRatio {
		opts.LogoRatio = DefaultLogoRatio
	}
	return &Encoder{
		size:      opts.Size,
		logoPath:  opts.LogoPath,
		logoRatio: opts.LogoRatio,
		log:       log,
	}
}

// Encode renders token as a PNG QR code.
func (e *Encoder) Encode(token string) ([]byte, error) {
	img, err := e.Render(token)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return buf.Bytes(), nil
}

// Render returns the QR image for token. When the venue logo can be loaded
// the code uses the highest recovery level and carries the logo in its
// centre; otherwise a plain code is produced.
func (e *Encoder) Render(token string) (image.Image, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrEncoding)
	}

	logo := e.loadLogo()
	level := skipqr.Medium
	if logo != nil {
		level = skipqr.Highest
	}

	code, err := skipqr.New(token, level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	code.ForegroundColor = color.Black
	code.BackgroundColor = color.White

	base := code.Image(e.size)
	bounds := base.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, base, bounds.Min, draw.Src)

	if logo != nil {
		overlayLogo(canvas, logo, e.logoRatio)
	}
	return canvas, nil
}

func (e *Encoder) loadLogo() image.Image {
	if e.logoPath == "" {
		return nil
	}
	f, err := os.Open(e.logoPath)
	if err != nil {
		e.log.Warn("venue logo unavailable, rendering plain qr", slog.String("path", e.logoPath), sl.Err(err))
		return nil
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		e.log.Warn("venue logo unreadable, rendering plain qr", slog.String("path", e.logoPath), sl.Err(err))
		return nil
	}
	return img
}

// overlayLogo paints a white disc in the centre of canvas and scales logo
// into the square inscribed in it, keeping the logo's aspect ratio.
func overlayLogo(canvas *image.RGBA, logo image.Image, ratio float64) {
	b := canvas.Bounds()
	side := min(b.Dx(), b.Dy())
	box := int(float64(side) * ratio)
	if box < 2 {
		return
	}

	cx := b.Min.X + b.Dx()/2
	cy := b.Min.Y + b.Dy()/2
	radius := int(math.Ceil(float64(box)*math.Sqrt2/2)) + 2
	fillDisc(canvas, cx, cy, radius, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	lb := logo.Bounds()
	w, h := box, box
	if lb.Dx() > lb.Dy() {
		h = max(1, box*lb.Dy()/lb.Dx())
	} else if lb.Dy() > lb.Dx() {
		w = max(1, box*lb.Dx()/lb.Dy())
	}
	dst := image.Rect(cx-w/2, cy-h/2, cx-w/2+w, cy-h/2+h)
	draw.CatmullRom.Scale(canvas, dst, logo, lb, draw.Over, nil)
}

func fillDisc(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	b := img.Bounds()
	r2 := r * r
	for y := cy - r; y <= cy+r; y++ {
		if y < b.Min.Y || y >= b.Max.Y {
			continue
		}
		dy := y - cy
		for x := cx - r; x <= cx+r; x++ {
			if x < b.Min.X || x >= b.Max.X {
				continue
			}
			dx := x - cx
			if dx*dx+dy*dy <= r2 {
				img.SetRGBA(x, y, c)
			}
		}
	}
}
