package protoreg

import (
	"fmt"
	"os"
	"path"

	"github.com/jhump/protoreflect/v2/protoprint"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Render writes every file of the registry as .proto source under outDir and
// returns the written paths.
func Render(r *Registry, outDir string) ([]string, error) {
	pp := protoprint.Printer{}

	var written []string
	for _, fd := range r.Files() {
		fp := path.Join(outDir, fd.Path())
		if err := os.MkdirAll(path.Dir(fp), 0755); err != nil {
			return written, err
		}
		if err := renderFile(&pp, fd, fp); err != nil {
			return written, fmt.Errorf("render %s: %w", fd.Path(), err)
		}
		written = append(written, fp)
	}
	return written, nil
}

func renderFile(pp *protoprint.Printer, fd protoreflect.FileDescriptor, fp string) error {
	f, err := os.OpenFile(fp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	return pp.PrintProtoFile(fd, f)
}
