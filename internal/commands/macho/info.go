// Package macho renders what the relocation engine sees in a MachO file.
package macho

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/blacktop/machoreloc/internal/colors"
	"github.com/blacktop/machoreloc/pkg/macho"
	"github.com/blacktop/machoreloc/pkg/relocate"
	"github.com/dustin/go-humanize"
)

var headerColor = colors.BoldHiBlue().SprintFunc()
var cmdColor = colors.FaintCyan().SprintFunc()
var systemColor = colors.Faint().SprintFunc()
var missingColor = colors.Red().SprintFunc()
var weakColor = colors.Italic().SprintFunc()
var offsetColor = colors.FaintYellow().SprintfFunc()

// Info is the summary printed by the info command.
type Info struct {
	Path          string       `json:"path"`
	Size          int64        `json:"size"`
	Fat           bool         `json:"fat"`
	StaticArchive bool         `json:"static_archive,omitempty"`
	Type          string       `json:"type,omitempty"`
	InstallName   string       `json:"install_name,omitempty"`
	Arches        []ArchInfo   `json:"arches"`
	Dependencies  []Dependency `json:"dependencies"`
	Rpaths        []string     `json:"rpaths"`
}

// ArchInfo is one slice of Info.
type ArchInfo struct {
	CPU           string `json:"cpu,omitempty"`
	Kind          string `json:"kind"`
	Offset        int64  `json:"offset"`
	StaticArchive bool   `json:"static_archive,omitempty"`
}

// Dependency is one declared dylib of Info.
type Dependency struct {
	Command string `json:"command"`
	Name    string `json:"name"`
	System  bool   `json:"system"`
}

// GetInfo parses path.
func GetInfo(path string) (*Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	img, err := macho.Open(path)
	if err != nil {
		return nil, err
	}

	info := &Info{
		Path:          path,
		Size:          st.Size(),
		Fat:           img.Fat,
		StaticArchive: img.StaticArchive,
		InstallName:   img.InstallName,
		Rpaths:        img.Rpaths,
	}
	if img.Type != 0 {
		info.Type = img.Type.String()
	}
	for _, a := range img.Arches {
		ai := ArchInfo{Offset: a.Offset, StaticArchive: a.StaticArchive, Kind: "static archive"}
		if !a.StaticArchive {
			ai.CPU = a.CPU.String()
			ai.Kind = a.Magic.String()
		}
		info.Arches = append(info.Arches, ai)
	}
	for _, d := range img.Dylibs {
		info.Dependencies = append(info.Dependencies, Dependency{
			Command: d.Cmd.String(),
			Name:    d.Name,
			System:  relocate.IsSystem(d.Name),
		})
	}

	return info, nil
}

// JSON writes the info as indented JSON.
func (i *Info) JSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(i)
}

func (i *Info) String() string {
	var sb strings.Builder

	kind := "MachO"
	if i.Fat {
		kind = "Universal MachO"
	}
	fmt.Fprintf(&sb, "%s %s (%s)\n", headerColor(kind), i.Path, humanize.Bytes(uint64(i.Size)))
	if i.Type != "" {
		fmt.Fprintf(&sb, "Type:         %s\n", i.Type)
	}
	if i.InstallName != "" {
		fmt.Fprintf(&sb, "Install Name: %s\n", i.InstallName)
	}

	fmt.Fprintf(&sb, "\n%s\n", headerColor("Architectures"))
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	for _, a := range i.Arches {
		cpu := a.CPU
		if cpu == "" {
			cpu = "-"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", cpu, a.Kind, offsetColor("%#x", a.Offset))
	}
	w.Flush()

	if len(i.Dependencies) > 0 {
		fmt.Fprintf(&sb, "\n%s\n", headerColor("Dependencies"))
		w = tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
		for _, d := range i.Dependencies {
			name := d.Name
			if d.System {
				name = systemColor(name + " (system)")
			}
			fmt.Fprintf(w, "  %s\t%s\n", cmdColor(d.Command), name)
		}
		w.Flush()
	}

	if len(i.Rpaths) > 0 {
		fmt.Fprintf(&sb, "\n%s\n", headerColor("Rpaths"))
		for _, r := range i.Rpaths {
			fmt.Fprintf(&sb, "  %s\n", r)
		}
	}

	return sb.String()
}
