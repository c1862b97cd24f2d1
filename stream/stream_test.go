package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/Neumenon/objgraph/objgraph"
)

// ============================================================
// Writer Tests
// ============================================================

func TestWriter_MinimalFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.WritePayload([]byte("{}")); err != nil {
		t.Fatalf("WritePayload failed: %v", err)
	}

	got := buf.String()
	want := "@frame{v=1 seq=0 len=2}\n{}\n"
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestWriter_SequenceAdvances(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for i := 0; i < 3; i++ {
		if err := w.WritePayload([]byte("1")); err != nil {
			t.Fatalf("WritePayload %d failed: %v", i, err)
		}
	}
	if !strings.Contains(buf.String(), "@frame{v=1 seq=2 len=1}\n") {
		t.Errorf("missing third frame in:\n%s", buf.String())
	}
}

func TestWriter_WithCRC(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, WithCRC())

	if err := w.WritePayload([]byte("123456789")); err != nil {
		t.Fatalf("WritePayload failed: %v", err)
	}

	want := "@frame{v=1 seq=0 len=9 crc=cbf43926}\n123456789\n"
	if got := buf.String(); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestWriter_CRCLeadingZeros(t *testing.T) {
	if got := formatCRC(0xab); got != "000000ab" {
		t.Errorf("got %q", got)
	}
	if v, ok := parseCRC("crc32:000000ab"); !ok || v != 0xab {
		t.Errorf("got %x/%v", v, ok)
	}
	for _, bad := range []string{"ab", "zzzzzzzz", "0000000001"} {
		if _, ok := parseCRC(bad); ok {
			t.Errorf("parseCRC(%q) should fail", bad)
		}
	}
}

func TestWriter_Zstd(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, WithZstd(), WithCRC())
	defer w.Close()

	payload := bytes.Repeat([]byte(`{"a": 1}`), 200)
	if err := w.WritePayload(payload); err != nil {
		t.Fatalf("WritePayload failed: %v", err)
	}

	header, _, _ := strings.Cut(buf.String(), "\n")
	if !strings.HasSuffix(header, " enc=zstd}") {
		t.Errorf("header = %q, want enc=zstd", header)
	}
	if buf.Len() >= len(payload) {
		t.Errorf("compressed frame is %d bytes for a %d byte payload", buf.Len(), len(payload))
	}
}

func TestWriter_ZstdLevel(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"name": "level"}`), 200)
	for _, level := range []zstd.EncoderLevel{zstd.SpeedFastest, zstd.SpeedBestCompression} {
		var buf bytes.Buffer
		w := NewWriter(&buf, WithZstdLevel(level), WithCRC())
		if err := w.WritePayload(payload); err != nil {
			t.Fatalf("%v: WritePayload failed: %v", level, err)
		}
		w.Close()

		header, _, _ := strings.Cut(buf.String(), "\n")
		if !strings.HasSuffix(header, " enc=zstd}") {
			t.Errorf("%v: header = %q, want enc=zstd", level, header)
		}
		frame, err := NewReader(&buf).Next()
		if err != nil {
			t.Fatalf("%v: Next: %v", level, err)
		}
		if !bytes.Equal(frame.Payload, payload) {
			t.Errorf("%v: payload did not round-trip", level)
		}
	}
}

func TestWriter_EmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, WithCRC())
	if err := w.WritePayload(nil); err != nil {
		t.Fatalf("WritePayload failed: %v", err)
	}
	want := "@frame{v=1 seq=0 len=0 crc=00000000}\n\n"
	if got := buf.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

// ============================================================
// Reader Tests
// ============================================================

func TestReader_MinimalFrame(t *testing.T) {
	r := NewReader(strings.NewReader("@frame{v=1 seq=0 len=2}\n{}\n"))
	frame, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if frame.Version != 1 {
		t.Errorf("Version = %d, want 1", frame.Version)
	}
	if frame.Seq != 0 {
		t.Errorf("Seq = %d, want 0", frame.Seq)
	}
	if frame.Encoding != EncodingNone {
		t.Errorf("Encoding = %v, want none", frame.Encoding)
	}
	if string(frame.Payload) != "{}" {
		t.Errorf("Payload = %q, want {}", frame.Payload)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReader_WithCRC(t *testing.T) {
	r := NewReader(strings.NewReader("@frame{v=1 seq=0 len=9 crc=cbf43926}\n123456789\n"))
	frame, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if !frame.HasCRC() || *frame.CRC != 0xcbf43926 {
		t.Errorf("CRC = %v, want cbf43926", frame.CRC)
	}
}

func TestReader_CRCMismatch(t *testing.T) {
	input := "@frame{v=1 seq=4 len=9 crc=cbf43926}\n123456780\n"

	_, err := NewReader(strings.NewReader(input)).Next()
	var mismatch *CRCMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected CRCMismatchError, got %T: %v", err, err)
	}
	if mismatch.Seq != 4 || mismatch.Expected != 0xcbf43926 {
		t.Errorf("got %+v", mismatch)
	}

	frame, err := NewReader(strings.NewReader(input), WithCRCVerification(false)).Next()
	if err != nil {
		t.Fatalf("verification off: %v", err)
	}
	if string(frame.Payload) != "123456780" {
		t.Errorf("Payload = %q", frame.Payload)
	}
}

func TestVerifyCRC(t *testing.T) {
	if !VerifyCRC([]byte("123456789"), 0xcbf43926) {
		t.Error("check value rejected")
	}
	if VerifyCRC([]byte("123456780"), 0xcbf43926) {
		t.Error("altered payload accepted")
	}
}

func TestReader_PayloadWithNewlinesAndBraces(t *testing.T) {
	payload := "{\n    \"a\": \"}\\n@frame{\"\n}"
	var buf bytes.Buffer
	if err := NewWriter(&buf).WritePayload([]byte(payload)); err != nil {
		t.Fatalf("WritePayload failed: %v", err)
	}

	frame, err := NewReader(&buf).Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if string(frame.Payload) != payload {
		t.Errorf("Payload = %q, want %q", frame.Payload, payload)
	}
}

func TestReader_MissingTrailingNewline(t *testing.T) {
	frames, err := NewReader(strings.NewReader("@frame{v=1 seq=0 len=1}\n1@frame{v=1 seq=1 len=1}\n2")).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(frames) != 2 || string(frames[0].Payload) != "1" || string(frames[1].Payload) != "2" {
		t.Fatalf("got %d frames", len(frames))
	}
}

func TestReader_HeaderVariations(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"comma-separated", "@frame{v=1,seq=0,len=2}\n{}\n"},
		{"extra spaces", "@frame{  v=1   seq=0  len=2  }\n{}\n"},
		{"prefixed crc", "@frame{v=1 seq=0 len=2 crc=crc32:" + formatCRC(ComputeCRC([]byte("{}"))) + "}\n{}\n"},
		{"explicit none", "@frame{v=1 seq=0 len=2 enc=none}\n{}\n"},
		{"unknown keys ignored", "@frame{v=1 seq=0 len=2 sid=9 kind=doc}\n{}\n"},
		{"crlf header", "@frame{v=1 seq=0 len=2}\r\n{}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := NewReader(strings.NewReader(tt.input)).Next()
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			if string(frame.Payload) != "{}" {
				t.Errorf("Payload = %q", frame.Payload)
			}
		})
	}
}

func TestReader_HeaderErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{"no prefix", "frame{v=1 seq=0 len=0}\n\n", "expected @frame{"},
		{"no brace", "@frame{v=1 seq=0 len=0\n\n", "missing closing }"},
		{"bad seq", "@frame{v=1 seq=x len=0}\n\n", "invalid seq"},
		{"bad len", "@frame{v=1 seq=0 len=-1}\n\n", "invalid len"},
		{"missing len", "@frame{v=1 seq=0}\n\n", "missing len"},
		{"bad crc", "@frame{v=1 seq=0 len=0 crc=12}\n\n", "invalid crc: 12"},
		{"bad encoding", "@frame{v=1 seq=0 len=0 enc=gzip}\n\n", "unknown encoding: gzip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(tt.input)).Next()
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ParseError, got %T: %v", err, err)
			}
			if pe.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", pe.Reason, tt.reason)
			}
		})
	}
}

func TestReader_ErrorOffset(t *testing.T) {
	input := "@frame{v=1 seq=0 len=1}\n1\nbogus\n"
	r := NewReader(strings.NewReader(input))
	if _, err := r.Next(); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	_, err := r.Next()
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if want := int64(len("@frame{v=1 seq=0 len=1}\n1\n")); pe.Offset != want {
		t.Errorf("Offset = %d, want %d", pe.Offset, want)
	}
}

func TestReader_UnsupportedVersion(t *testing.T) {
	_, err := NewReader(strings.NewReader("@frame{v=2 seq=0 len=0}\n\n")).Next()
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestReader_TruncatedPayload(t *testing.T) {
	_, err := NewReader(strings.NewReader("@frame{v=1 seq=0 len=10}\nabc")).Next()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReader_EOF(t *testing.T) {
	for _, input := range []string{"", "\n"} {
		if _, err := NewReader(strings.NewReader(input)).Next(); err != io.EOF {
			t.Errorf("input %q: expected io.EOF, got %v", input, err)
		}
	}
}

func TestReader_PayloadTooLarge(t *testing.T) {
	input := "@frame{v=1 seq=0 len=1000}\n" + strings.Repeat("x", 1000) + "\n"
	_, err := NewReader(strings.NewReader(input), WithMaxPayload(100)).Next()
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestReader_DecodedPayloadTooLarge(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, WithZstd())
	if err := w.WritePayload(bytes.Repeat([]byte("a"), 10000)); err != nil {
		t.Fatalf("WritePayload failed: %v", err)
	}
	w.Close()

	r := NewReader(&buf, WithMaxPayload(1000))
	defer r.Close()
	if _, err := r.Next(); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestReader_SequenceCheck(t *testing.T) {
	tests := []struct {
		name  string
		seqs  []int
		valid int
	}{
		{"in order", []int{0, 1, 2}, 3},
		{"gap", []int{0, 2}, 1},
		{"duplicate", []int{0, 1, 1}, 2},
		{"late start", []int{3}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sb strings.Builder
			for _, seq := range tt.seqs {
				fmt.Fprintf(&sb, "@frame{v=1 seq=%d len=0}\n\n", seq)
			}
			frames, err := NewReader(strings.NewReader(sb.String()), WithSequenceCheck()).ReadAll()
			if len(frames) != tt.valid {
				t.Errorf("got %d frames, want %d", len(frames), tt.valid)
			}
			var se *SequenceError
			if tt.valid == len(tt.seqs) {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			} else if !errors.As(err, &se) {
				t.Errorf("expected SequenceError, got %v", err)
			}
		})
	}

	// Without the check any numbering is accepted.
	frames, err := NewReader(strings.NewReader("@frame{v=1 seq=7 len=0}\n\n")).ReadAll()
	if err != nil || len(frames) != 1 || frames[0].Seq != 7 {
		t.Errorf("got %v / %v", frames, err)
	}
}

// ============================================================
// Roundtrip Tests
// ============================================================

func TestRoundtrip_Options(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"$type":"0|int","value":1}`),
		nil,
		bytes.Repeat([]byte("{\"k\": [1, 2, 3]}\n"), 50),
	}

	tests := []struct {
		name string
		opts []WriterOption
	}{
		{"plain", nil},
		{"crc", []WriterOption{WithCRC()}},
		{"zstd", []WriterOption{WithZstd()}},
		{"zstd+crc", []WriterOption{WithZstd(), WithCRC()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := NewWriter(&buf, tt.opts...)
			for _, p := range payloads {
				if err := w.WritePayload(p); err != nil {
					t.Fatalf("WritePayload: %v", err)
				}
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			r := NewReader(&buf, WithSequenceCheck())
			defer r.Close()
			frames, err := r.ReadAll()
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if len(frames) != len(payloads) {
				t.Fatalf("got %d frames, want %d", len(frames), len(payloads))
			}
			for i, f := range frames {
				if !bytes.Equal(f.Payload, payloads[i]) {
					t.Errorf("frame %d: Payload = %q, want %q", i, f.Payload, payloads[i])
				}
				if f.Seq != uint64(i) {
					t.Errorf("frame %d: Seq = %d", i, f.Seq)
				}
			}
		})
	}
}

// ============================================================
// Session Tests
// ============================================================

type sessionDoc struct {
	Name string
	Tags []string
	Next *sessionDoc
}

func TestSession_EncodeDecode(t *testing.T) {
	loop := &sessionDoc{Name: "loop"}
	loop.Next = loop
	docs := []*sessionDoc{
		{Name: "a", Tags: []string{"x", "y"}},
		{Name: "b", Next: &sessionDoc{Name: "c"}},
		loop,
	}

	for _, opts := range [][]WriterOption{nil, {WithZstd(), WithCRC()}} {
		var buf bytes.Buffer
		enc := NewEncoder(&buf, nil, opts...)
		for _, d := range docs {
			if err := enc.Encode(d); err != nil {
				t.Fatalf("Encode: %v", err)
			}
		}
		if err := enc.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		dec := NewDecoder(&buf, nil, WithSequenceCheck())
		var got []*sessionDoc
		for {
			var d *sessionDoc
			err := dec.Decode(&d)
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			got = append(got, d)
		}
		dec.Close()

		if len(got) != 3 {
			t.Fatalf("got %d docs, want 3", len(got))
		}
		if got[0].Name != "a" || len(got[0].Tags) != 2 || got[0].Tags[1] != "y" {
			t.Errorf("doc 0 = %+v", got[0])
		}
		if got[1].Next == nil || got[1].Next.Name != "c" {
			t.Errorf("doc 1 = %+v", got[1])
		}
		if got[2].Next != got[2] {
			t.Errorf("doc 2 lost its cycle")
		}
	}
}

func TestSession_EachFrameIsOneSession(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, nil)
	for i := 0; i < 2; i++ {
		if err := enc.Encode(&sessionDoc{Name: "same"}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	frames, err := NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames", len(frames))
	}
	// Aliases restart per session, so both payloads are identical.
	if !bytes.Equal(frames[0].Payload, frames[1].Payload) {
		t.Errorf("payloads differ:\n%s\n%s", frames[0].Payload, frames[1].Payload)
	}
	if !strings.Contains(string(frames[0].Payload), `"0|*github.com/Neumenon/objgraph/stream.sessionDoc"`) {
		t.Errorf("payload = %s", frames[0].Payload)
	}
}

func TestSession_DecodeError(t *testing.T) {
	opts := objgraph.DefaultOptions()
	opts.ErrorPolicy = objgraph.PolicyStrict
	dec := NewDecoder(strings.NewReader("@frame{v=1 seq=0 len=1}\n}\n"), objgraph.NewSerializer(opts))
	var d sessionDoc
	if err := dec.Decode(&d); err == nil {
		t.Error("expected error for malformed payload")
	}
}

type chanDoc struct {
	Name string
	C    chan int
}

func TestSession_FailedEncodeDoesNotCorruptNextFrame(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, nil)
	if err := enc.Encode(chanDoc{Name: "bad", C: make(chan int)}); err == nil {
		t.Fatal("expected error for unsupported field type")
	}
	if buf.Len() != 0 {
		t.Fatalf("failed encode wrote a frame: %q", buf.String())
	}
	if err := enc.Encode(&sessionDoc{Name: "ok"}); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	frames, err := NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if strings.Contains(string(frames[0].Payload), "chanDoc") || strings.Contains(string(frames[0].Payload), "bad") {
		t.Errorf("payload carries the failed session: %s", frames[0].Payload)
	}

	var got *sessionDoc
	if err := NewDecoder(&buf, nil).Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got == nil || got.Name != "ok" {
		t.Errorf("got %+v", got)
	}
}
