package audiomanager

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	jsoniter "github.com/json-iterator/go"

	"github.com/NVIDIA/ais-etl-go/client"
)

type fakeClient struct {
	fail map[string]bool
}

func (f *fakeClient) GetObject(_ context.Context, bucket, key string, opts client.GetOpts) ([]byte, error) {
	if f.fail[key] {
		return nil, fmt.Errorf("simulated failure for %s/%s", bucket, key)
	}
	var rec Record
	jsoniter.Unmarshal([]byte(opts.Args), &rec)
	return []byte(fmt.Sprintf("part=%d id=%s", rec.Part, rec.ID)), nil
}

func (f *fakeClient) PutContent(context.Context, string, string, []byte) error { return nil }

func TestTransformBuildsTarFromManifest(t *testing.T) {
	cl := &fakeClient{}
	tf, err := New([]byte(`{"src_bucket":"clips","prefix":"raw/"}`), cl)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	manifest := `{"id":"a","part":0,"from_time":0,"to_time":1}
{"id":"b","part":1,"from_time":1,"to_time":2}
`
	out, err := tf.Transform([]byte(manifest), "ignored", "")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	tr := tar.NewReader(bytes.NewReader(out))
	names := map[string]bool{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar.Next: %v", err)
		}
		names[hdr.Name] = true
	}
	if !names["a_0.wav"] || !names["b_1.wav"] {
		t.Errorf("tar members = %v, want a_0.wav and b_1.wav", names)
	}
}

func TestTransformSkipsFailedRecordsWithoutAborting(t *testing.T) {
	cl := &fakeClient{fail: map[string]bool{"raw/bad.wav": true}}
	tf, _ := New([]byte(`{"src_bucket":"clips","prefix":"raw/"}`), cl)

	manifest := `{"id":"bad","part":0,"from_time":0,"to_time":1}
{"id":"good","part":0,"from_time":0,"to_time":1}
`
	out, err := tf.Transform([]byte(manifest), "ignored", "")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	tr := tar.NewReader(bytes.NewReader(out))
	count := 0
	for {
		_, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar.Next: %v", err)
		}
		count++
	}
	if count != 1 {
		t.Errorf("tar member count = %d, want 1 (only the successful record)", count)
	}
}

func TestTransformSkipsMalformedManifestLines(t *testing.T) {
	cl := &fakeClient{}
	tf, _ := New(nil, cl)

	manifest := "not json\n{\"id\":\"x\",\"part\":0,\"from_time\":0,\"to_time\":1}\n{\"id\":\"missing-fields\"}\n"
	out, err := tf.Transform([]byte(manifest), "ignored", "")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	tr := tar.NewReader(bytes.NewReader(out))
	count := 0
	for {
		_, err := tr.Next()
		if err == io.EOF {
			break
		}
		count++
	}
	if count != 1 {
		t.Errorf("tar member count = %d, want 1", count)
	}
}
