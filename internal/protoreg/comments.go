package protoreg

import (
	"strings"

	"github.com/jhump/protoreflect/v2/protobuilder"
)

// comment turns a schema description into a leading proto comment.
func comment(desc string) protobuilder.Comments {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return protobuilder.Comments{}
	}
	lines := strings.Split(desc, "\n")
	for i, line := range lines {
		lines[i] = " " + strings.TrimRight(line, " \t")
	}
	return protobuilder.Comments{LeadingComment: strings.Join(lines, "\n") + "\n"}
}
