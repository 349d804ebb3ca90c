package transformer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/spf13/afero"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of the stack templates written to disk.
type Format string

// Stack encodings.
const (
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatMsgpack Format = "msgpack"
)

// ParseFormat returns the format named s.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatYAML, FormatMsgpack:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "":
		return FormatJSON, nil
	default:
		return "", NewConfigError("Format", s, "expected json, yaml or msgpack")
	}
}

// Ext returns the file extension of f.
func (f Format) Ext() string {
	if f == FormatMsgpack {
		return ".msgpack"
	}
	return "." + string(f)
}

// Encode serializes v in format f. Map keys are sorted in every format.
func (f Format) Encode(v any) ([]byte, error) {
	switch f {
	case FormatYAML:
		return yaml.Marshal(v)
	case FormatMsgpack:
		// The encoder sorts only generic maps, so typed maps and structs
		// are first reduced to their JSON shape.
		generic, err := toGeneric(v)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetSortMapKeys(true)
		enc.UseCompactInts(true)
		enc.UseCompactFloats(true)
		if err := enc.Encode(generic); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
}

func toGeneric(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WriterMetrics tracks what a write produced.
type WriterMetrics struct {
	FilesWritten int
	TotalBytes   int64
}

// BundleWriter writes deployment resources to a directory:
//
//	schema.graphql
//	resolvers/<Type.field...>.vtl
//	stacks/<name>.<ext>
//	cloudformation-template.<ext>
//	stack-mapping.<ext>
type BundleWriter struct {
	fs      afero.Fs
	outDir  string
	format  Format
	workers int

	mu      sync.Mutex
	metrics *WriterMetrics
}

// NewBundleWriter returns a writer rooted at outDir on fs.
func NewBundleWriter(fs afero.Fs, outDir string, format Format) *BundleWriter {
	return &BundleWriter{
		fs:      fs,
		outDir:  outDir,
		format:  format,
		workers: runtime.GOMAXPROCS(0),
		metrics: &WriterMetrics{},
	}
}

// WithWorkers sets the number of parallel writes.
func (w *BundleWriter) WithWorkers(n int) *BundleWriter {
	if n > 0 {
		w.workers = n
	}
	return w
}

// Metrics returns the metrics of the last write.
func (w *BundleWriter) Metrics() *WriterMetrics { return w.metrics }

type fileTask struct {
	name string
	data func() ([]byte, error)
}

func raw(s string) func() ([]byte, error) {
	return func() ([]byte, error) { return []byte(s), nil }
}

// Write writes every file of res in parallel.
func (w *BundleWriter) Write(ctx context.Context, res *DeploymentResources) error {
	if err := w.fs.MkdirAll(w.outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	encode := func(v any) func() ([]byte, error) {
		return func() ([]byte, error) { return w.format.Encode(v) }
	}
	files := []fileTask{
		{name: "schema.graphql", data: raw(res.Schema)},
		{name: "cloudformation-template" + w.format.Ext(), data: encode(res.RootStack)},
		{name: "stack-mapping" + w.format.Ext(), data: encode(res.StackMapping)},
	}
	for _, name := range res.ResolverFileNames() {
		files = append(files, fileTask{name: filepath.Join("resolvers", name), data: raw(res.Resolvers[name])})
	}
	for _, name := range sortedKeys(res.Stacks) {
		files = append(files, fileTask{name: filepath.Join("stacks", name+w.format.Ext()), data: encode(res.Stacks[name])})
	}

	w.metrics = &WriterMetrics{}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(w.workers)
	for _, f := range files {
		eg.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return w.writeFile(f)
			}
		})
	}
	return eg.Wait()
}

func (w *BundleWriter) writeFile(f fileTask) error {
	data, err := f.data()
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.name, err)
	}
	path := filepath.Join(w.outDir, f.name)
	if err := w.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", f.name, err)
	}
	if err := afero.WriteFile(w.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", f.name, err)
	}
	w.mu.Lock()
	w.metrics.FilesWritten++
	w.metrics.TotalBytes += int64(len(data))
	w.mu.Unlock()
	return nil
}
