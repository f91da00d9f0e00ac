package report

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/rs/zerolog"

	"github.com/TitoGod/scraping-colombia/pkg/diff"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestChangeWriter(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2025, time.March, 10, 15, 0, 0, 0, time.UTC)

	w, err := NewChangeWriter(dir, day)
	if err != nil {
		t.Fatalf("NewChangeWriter() error = %v", err)
	}
	if err := w.Write([]diff.Change{{Key: "B", New: true}}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Write([]diff.Change{{Key: "A", ChangedFields: []string{"status", "holder"}}}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if want := filepath.Join(dir, "change_report_2025-03-10.csv"); w.Path() != want {
		t.Errorf("Path() = %s, want %s", w.Path(), want)
	}
	if w.Rows() != 2 {
		t.Errorf("Rows() = %d, want 2", w.Rows())
	}

	want := [][]string{
		{"request_number", "changed", "columns_changed"},
		{"B", "True", "NEW_RECORD"},
		{"A", "True", "status, holder"},
	}
	if got := readCSV(t, w.Path()); !reflect.DeepEqual(got, want) {
		t.Errorf("report = %v, want %v", got, want)
	}
}

func TestWriteMissing(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteMissing(dir, []string{"C", "D"})
	if err != nil {
		t.Fatalf("WriteMissing() error = %v", err)
	}
	want := [][]string{{"missing_request_number"}, {"C"}, {"D"}}
	if got := readCSV(t, path); !reflect.DeepEqual(got, want) {
		t.Errorf("report = %v, want %v", got, want)
	}

	// An empty run replaces the stale file.
	if _, err := WriteMissing(dir, nil); err != nil {
		t.Fatalf("WriteMissing(nil) error = %v", err)
	}
	if got := readCSV(t, path); len(got) != 1 {
		t.Errorf("rows = %d, want header only", len(got))
	}
}

func TestLocalSink(t *testing.T) {
	path, err := WriteMissing(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	loc, err := LocalSink{}.Publish(context.Background(), path)
	if err != nil || loc != path {
		t.Errorf("Publish() = %s, %v; want %s, nil", loc, err, path)
	}
	if _, err := (LocalSink{}).Publish(context.Background(), filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Error("Publish(missing) expected error")
	}
}

type fakeUploader struct {
	input *s3manager.UploadInput
	body  []byte
	err   error
}

func (f *fakeUploader) Upload(in *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return f.UploadWithContext(context.Background(), in, opts...)
}

func (f *fakeUploader) UploadWithContext(_ aws.Context, in *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3manager.UploadOutput{Location: "https://bucket.s3.amazonaws.com/" + aws.StringValue(in.Key)}, nil
}

func TestS3Sink_Publish(t *testing.T) {
	path, err := WriteMissing(t.TempDir(), []string{"C"})
	if err != nil {
		t.Fatal(err)
	}

	up := &fakeUploader{}
	sink := NewS3SinkWithUploader(up, "reports", "colombia/2025-03-10", zerolog.Nop())

	loc, err := sink.Publish(context.Background(), path)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if got := aws.StringValue(up.input.Key); got != "colombia/2025-03-10/missing_records.csv" {
		t.Errorf("key = %s", got)
	}
	if got := aws.StringValue(up.input.ContentType); got != "text/csv" {
		t.Errorf("content type = %s", got)
	}
	if string(up.body) != "missing_request_number\nC\n" {
		t.Errorf("body = %q", up.body)
	}
	if loc == "" {
		t.Error("Publish() location is empty")
	}
}

func TestS3Sink_Errors(t *testing.T) {
	path, err := WriteMissing(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}

	sink := NewS3SinkWithUploader(&fakeUploader{err: errors.New("access denied")}, "b", "", zerolog.Nop())
	if _, err := sink.Publish(context.Background(), path); err == nil {
		t.Error("Publish() expected upload error")
	}

	empty := NewS3SinkWithUploader(nil, "b", "", zerolog.Nop())
	if _, err := empty.Publish(context.Background(), path); !errors.Is(err, ErrUploaderNotInitialized) {
		t.Errorf("Publish() error = %v, want ErrUploaderNotInitialized", err)
	}

	if _, err := NewS3Sink(S3Config{}, zerolog.Nop()); err == nil {
		t.Error("NewS3Sink() without bucket expected error")
	}
}
