package decode

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"testing"

	"github.com/any-hub/image-hub/internal/failure"
	"github.com/any-hub/image-hub/internal/fetch"
)

func TestDecodePNGWithPlan(t *testing.T) {
	fetcher := &memoryFetcher{data: encodePNG(t, 400, 200)}
	req := mustRequest(t, RequestOptions{
		URI:     "file:///cache/a",
		Target:  Size{100, 100},
		Policy:  ScalePowerOfTwo,
		Fetcher: fetcher,
	})

	result, err := NewDecoder(DecoderOptions{}).Decode(context.Background(), req)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.Format != "png" {
		t.Fatalf("expected png, got %s", result.Format)
	}
	if result.Intrinsic != (Size{400, 200}) {
		t.Fatalf("unexpected intrinsic %s", result.Intrinsic)
	}
	if result.Params.SampleSize != 2 {
		t.Fatalf("expected sample size 2, got %d", result.Params.SampleSize)
	}
	if b := result.Image.Bounds(); b.Dx() != 200 || b.Dy() != 100 {
		t.Fatalf("unexpected output %v", b)
	}
	if !fetcher.closed {
		t.Fatalf("source must be closed after decode")
	}
}

func TestDecodeSubsamplesAndFills(t *testing.T) {
	fetcher := &memoryFetcher{data: encodePNG(t, 800, 400)}
	req := mustRequest(t, RequestOptions{
		URI:         "file:///cache/b",
		Target:      Size{90, 90},
		Policy:      ScaleExactCrop,
		Fetcher:     fetcher,
		PixelFormat: PixelRGBA,
	})

	result, err := NewDecoder(DecoderOptions{}).Decode(context.Background(), req)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.Params.SampleSize != 4 {
		t.Fatalf("expected sample size 4, got %d", result.Params.SampleSize)
	}
	if _, ok := result.Image.(*image.RGBA); !ok {
		t.Fatalf("expected *image.RGBA, got %T", result.Image)
	}
	if b := result.Image.Bounds(); b.Dx() != 90 || b.Dy() != 90 {
		t.Fatalf("expected exact 90x90 output, got %v", b)
	}
}

func TestDecodeStretchUpscales(t *testing.T) {
	req := mustRequest(t, RequestOptions{
		URI:     "file:///cache/c",
		Target:  Size{40, 40},
		Policy:  ScaleExactStretch,
		Fetcher: &memoryFetcher{data: encodePNG(t, 10, 10)},
	})
	result, err := NewDecoder(DecoderOptions{}).Decode(context.Background(), req)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if b := result.Image.Bounds(); b.Dx() != 40 || b.Dy() != 40 {
		t.Fatalf("expected 40x40, got %v", b)
	}
}

func TestDecodeAppliesExifOrientation(t *testing.T) {
	data := withExifOrientation(t, encodeJPEG(t, 40, 20), 6)

	for _, consider := range []bool{true, false} {
		req := mustRequest(t, RequestOptions{
			URI:          "file:///cache/d",
			Policy:       ScaleNone,
			Fetcher:      &memoryFetcher{data: data},
			ConsiderExif: consider,
		})
		result, err := NewDecoder(DecoderOptions{}).Decode(context.Background(), req)
		if err != nil {
			t.Fatalf("decode error: %v", err)
		}
		b := result.Image.Bounds()
		if consider && (b.Dx() != 20 || b.Dy() != 40) {
			t.Fatalf("orientation 6 should rotate to 20x40, got %v", b)
		}
		if !consider && (b.Dx() != 40 || b.Dy() != 20) {
			t.Fatalf("exif ignored should keep 40x20, got %v", b)
		}
	}
}

func TestApplyFlipThenRotateClockwise(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	blue := color.NRGBA{B: 255, A: 255}
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, red)
	src.Set(1, 0, blue)

	rotated := apply(src, Params{SampleSize: 1, Orientation: Orientation{Rotation: 90}})
	if rotated.Bounds().Dx() != 1 || rotated.Bounds().Dy() != 2 {
		t.Fatalf("unexpected bounds %v", rotated.Bounds())
	}
	if got := color.NRGBAModel.Convert(rotated.At(0, 0)); got != red {
		t.Fatalf("clockwise rotation should put red on top, got %v", got)
	}

	flipped := apply(src, Params{SampleSize: 1, Orientation: Orientation{Rotation: 90, FlipHorizontal: true}})
	if got := color.NRGBAModel.Convert(flipped.At(0, 0)); got != blue {
		t.Fatalf("flip before rotation should put blue on top, got %v", got)
	}
}

func TestDecodeOutOfMemory(t *testing.T) {
	decoder := NewDecoder(DecoderOptions{MaxDecodeBytes: 100 * 100 * 4})
	fetcher := &memoryFetcher{data: encodePNG(t, 400, 400)}
	req := mustRequest(t, RequestOptions{URI: "file:///cache/e", Policy: ScaleNone, Fetcher: fetcher})

	_, err := decoder.Decode(context.Background(), req)
	reason := failure.Classify(err)
	if reason == nil || reason.Kind != failure.KindOutOfMemory || !reason.Retryable() {
		t.Fatalf("expected retryable out_of_memory, got %v", err)
	}
	var budget *BudgetError
	if !errors.As(err, &budget) || budget.SampleSize != 1 {
		t.Fatalf("expected BudgetError at sample size 1, got %v", err)
	}
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory in chain")
	}
	if !fetcher.closed {
		t.Fatalf("source must be closed on failure")
	}

	result, err := decoder.Decode(context.Background(), req.WithMinSampleSize(budget.SampleSize*4))
	if err != nil {
		t.Fatalf("retry with larger sample size should fit: %v", err)
	}
	if b := result.Image.Bounds(); b.Dx() != 100 || b.Dy() != 100 {
		t.Fatalf("expected 100x100 after retry, got %v", b)
	}
}

func TestDecodeRejectsOversizedSource(t *testing.T) {
	decoder := NewDecoder(DecoderOptions{MaxSourceBytes: 200 * 200 * 4})
	fetcher := &memoryFetcher{data: encodePNG(t, 400, 400)}
	req := mustRequest(t, RequestOptions{
		URI:     "file:///cache/huge",
		Target:  Size{50, 50},
		Policy:  ScalePowerOfTwo,
		Fetcher: fetcher,
	})

	_, err := decoder.Decode(context.Background(), req)
	reason := failure.Classify(err)
	if reason == nil || reason.Kind != failure.KindOutOfMemory {
		t.Fatalf("expected out_of_memory, got %v", err)
	}
	if reason.Retryable() {
		t.Fatalf("full resolution overflow must not be retryable")
	}
	var budget *BudgetError
	if !errors.As(err, &budget) || !budget.FullResolution || budget.Size != (Size{400, 400}) {
		t.Fatalf("expected full resolution BudgetError, got %v", err)
	}
	if !fetcher.closed {
		t.Fatalf("source must be closed on failure")
	}

	_, err = decoder.Decode(context.Background(), req.WithMinSampleSize(16))
	if !errors.As(err, &budget) || !budget.FullResolution {
		t.Fatalf("larger sample size must not bypass the source limit, got %v", err)
	}
}

func TestDecodeMalformedData(t *testing.T) {
	fetcher := &memoryFetcher{data: []byte("definitely not an image")}
	req := mustRequest(t, RequestOptions{URI: "file:///cache/f", Fetcher: fetcher})

	_, err := NewDecoder(DecoderOptions{}).Decode(context.Background(), req)
	if failure.KindOf(err) != failure.KindDecoding {
		t.Fatalf("expected decoding_error, got %v", err)
	}
	if !fetcher.closed {
		t.Fatalf("source must be closed on failure")
	}
}

func TestDecodeTruncatedData(t *testing.T) {
	data := encodePNG(t, 64, 64)
	fetcher := &memoryFetcher{data: data[:len(data)/2]}
	req := mustRequest(t, RequestOptions{URI: "file:///cache/g", Fetcher: fetcher})

	_, err := NewDecoder(DecoderOptions{}).Decode(context.Background(), req)
	if failure.KindOf(err) != failure.KindDecoding {
		t.Fatalf("expected decoding_error for truncated data, got %v", err)
	}
}

func TestDecodeFetchErrorPropagates(t *testing.T) {
	fetcher := &memoryFetcher{err: failure.IO(errors.New("disk gone"))}
	req := mustRequest(t, RequestOptions{URI: "file:///cache/h", Fetcher: fetcher})

	_, err := NewDecoder(DecoderOptions{}).Decode(context.Background(), req)
	if failure.KindOf(err) != failure.KindIO {
		t.Fatalf("expected io_error, got %v", err)
	}
}

func TestDecodeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := mustRequest(t, RequestOptions{URI: "file:///cache/i", Fetcher: &memoryFetcher{data: encodePNG(t, 4, 4)}})

	_, err := NewDecoder(DecoderOptions{}).Decode(ctx, req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewRequestValidation(t *testing.T) {
	if _, err := NewRequest(RequestOptions{Fetcher: &memoryFetcher{}}); err == nil {
		t.Fatalf("missing uri should fail")
	}
	if _, err := NewRequest(RequestOptions{URI: "file:///x"}); err == nil {
		t.Fatalf("missing fetcher should fail")
	}
	req := mustRequest(t, RequestOptions{URI: "file:///x", Fetcher: &memoryFetcher{}})
	if req.OriginalURI() != "file:///x" || req.Key() != "file:///x" || req.MinSampleSize() != 1 {
		t.Fatalf("unexpected defaults: %+v", req)
	}
	retry := req.WithMinSampleSize(4)
	if req.MinSampleSize() != 1 || retry.MinSampleSize() != 4 {
		t.Fatalf("WithMinSampleSize must not mutate the original")
	}
}

type memoryFetcher struct {
	data   []byte
	err    error
	closed bool
}

func (m *memoryFetcher) Fetch(context.Context, string, any) (*fetch.Source, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &fetch.Source{ReadCloser: &closeTracker{Reader: bytes.NewReader(m.data), closed: &m.closed}, Length: int64(len(m.data))}, nil
}

type closeTracker struct {
	io.Reader
	closed *bool
}

func (c *closeTracker) Close() error {
	*c.closed = true
	return nil
}

func mustRequest(t *testing.T, opts RequestOptions) Request {
	t.Helper()
	req, err := NewRequest(opts)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradient(w, h)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gradient(w, h), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// withExifOrientation 在 SOI 之后插入只含 Orientation 标签的 APP1 段。
func withExifOrientation(t *testing.T, jpg []byte, orientation uint16) []byte {
	t.Helper()
	if len(jpg) < 2 || jpg[0] != 0xFF || jpg[1] != 0xD8 {
		t.Fatalf("not a jpeg")
	}
	var tiff bytes.Buffer
	tiff.WriteString("MM")
	binary.Write(&tiff, binary.BigEndian, uint16(42))
	binary.Write(&tiff, binary.BigEndian, uint32(8))
	binary.Write(&tiff, binary.BigEndian, uint16(1))      // entry count
	binary.Write(&tiff, binary.BigEndian, uint16(0x0112)) // Orientation
	binary.Write(&tiff, binary.BigEndian, uint16(3))      // SHORT
	binary.Write(&tiff, binary.BigEndian, uint32(1))
	binary.Write(&tiff, binary.BigEndian, orientation)
	binary.Write(&tiff, binary.BigEndian, uint16(0))
	binary.Write(&tiff, binary.BigEndian, uint32(0)) // next IFD

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)
	var out bytes.Buffer
	out.Write(jpg[:2])
	out.Write([]byte{0xFF, 0xE1})
	binary.Write(&out, binary.BigEndian, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(jpg[2:])
	return out.Bytes()
}
