package macho

import "fmt"

// A LoadCmd is a Mach-O load command.
type LoadCmd uint32

const (
	LoadCmdReqDyld         LoadCmd = 0x80000000
	LoadCmdSegment         LoadCmd = 0x1                     // segment of this file to be mapped
	LoadCmdSymtab          LoadCmd = 0x2                     // link-edit stab symbol table info
	LoadCmdDysymtab        LoadCmd = 0xb                     // dynamic link-edit symbol table info
	LoadCmdDylib           LoadCmd = 0xc                     // load dylib command
	LoadCmdDylibID         LoadCmd = 0xd                     // id dylib command
	LoadCmdDylinker        LoadCmd = 0xe                     // load a dynamic linker
	LoadCmdLoadWeakDylib   LoadCmd = (0x18 | LoadCmdReqDyld) // load a dylib that is allowed to be missing
	LoadCmdSegment64       LoadCmd = 0x19                    // 64-bit segment of this file to be mapped
	LoadCmdUUID            LoadCmd = 0x1b                    // the uuid
	LoadCmdRpath           LoadCmd = (0x1c | LoadCmdReqDyld) // runpath additions
	LoadCmdCodeSignature   LoadCmd = 0x1d                    // local of code signature
	LoadCmdReexportDylib   LoadCmd = (0x1f | LoadCmdReqDyld) // load and re-export dylib
	LoadCmdLazyLoadDylib   LoadCmd = 0x20                    // delay load of dylib until first use
	LoadCmdDyldInfoOnly    LoadCmd = (0x22 | LoadCmdReqDyld) // compressed dyld information only
	LoadCmdLoadUpwardDylib LoadCmd = (0x23 | LoadCmdReqDyld) // load upward dylib
	LoadCmdMain            LoadCmd = (0x28 | LoadCmdReqDyld) // replacement for LC_UNIXTHREAD
	LoadCmdBuildVersion    LoadCmd = 0x32                    // build for platform min OS version
)

var cmdStrings = []intName{
	{uint32(LoadCmdSegment), "LC_SEGMENT"},
	{uint32(LoadCmdSymtab), "LC_SYMTAB"},
	{uint32(LoadCmdDysymtab), "LC_DYSYMTAB"},
	{uint32(LoadCmdDylib), "LC_LOAD_DYLIB"},
	{uint32(LoadCmdDylibID), "LC_ID_DYLIB"},
	{uint32(LoadCmdDylinker), "LC_LOAD_DYLINKER"},
	{uint32(LoadCmdLoadWeakDylib), "LC_LOAD_WEAK_DYLIB"},
	{uint32(LoadCmdSegment64), "LC_SEGMENT_64"},
	{uint32(LoadCmdUUID), "LC_UUID"},
	{uint32(LoadCmdRpath), "LC_RPATH"},
	{uint32(LoadCmdCodeSignature), "LC_CODE_SIGNATURE"},
	{uint32(LoadCmdReexportDylib), "LC_REEXPORT_DYLIB"},
	{uint32(LoadCmdLazyLoadDylib), "LC_LAZY_LOAD_DYLIB"},
	{uint32(LoadCmdDyldInfoOnly), "LC_DYLD_INFO_ONLY"},
	{uint32(LoadCmdLoadUpwardDylib), "LC_LOAD_UPWARD_DYLIB"},
	{uint32(LoadCmdMain), "LC_MAIN"},
	{uint32(LoadCmdBuildVersion), "LC_BUILD_VERSION"},
}

func (i LoadCmd) String() string   { return stringName(uint32(i), cmdStrings, false) }
func (i LoadCmd) GoString() string { return stringName(uint32(i), cmdStrings, true) }

// IsDependency reports whether i declares a dylib the image needs at load time.
func (i LoadCmd) IsDependency() bool {
	switch i {
	case LoadCmdDylib, LoadCmdLoadWeakDylib, LoadCmdReexportDylib, LoadCmdLazyLoadDylib, LoadCmdLoadUpwardDylib:
		return true
	}
	return false
}

const (
	loadCmdHeaderSize = 8
	// sizeof(struct dylib_command): cmd, cmdsize, name.offset, timestamp,
	// current_version, compatibility_version
	dylibCmdSize = 24
	// sizeof(struct rpath_command): cmd, cmdsize, path.offset
	rpathCmdSize = 12
)

// A Dylib is one dependency declaration.
type Dylib struct {
	Cmd  LoadCmd
	Name string
}

// Weak reports whether the dependency may be missing at load time.
func (d Dylib) Weak() bool { return d.Cmd == LoadCmdLoadWeakDylib }

func (d Dylib) String() string { return fmt.Sprintf("%s %s", d.Cmd, d.Name) }

// loads is what one walk over a slice's load commands yields.
type loads struct {
	dylibs []Dylib
	rpaths []string
	id     string
}

// parseLoadCommands walks ncmds load commands starting at r's offset. Only the
// dependency, LC_ID_DYLIB and LC_RPATH commands are decoded; everything else is
// skipped by its declared size.
func parseLoadCommands(r *reader, ncmds uint32) (*loads, error) {
	var l loads

	for i := uint32(0); i < ncmds; i++ {
		start := r.off
		cmd, err := r.uint32()
		if err != nil {
			return nil, &MalformedBinaryError{Offset: start, Msg: fmt.Sprintf("failed to read load command %d", i), Err: err}
		}
		size, err := r.uint32()
		if err != nil {
			return nil, &MalformedBinaryError{Offset: start, Msg: fmt.Sprintf("failed to read size of load command %d", i), Err: err}
		}
		if size < loadCmdHeaderSize {
			return nil, &MalformedBinaryError{Offset: start, Msg: fmt.Sprintf("load command %d (%s) has invalid size %d", i, LoadCmd(cmd), size)}
		}

		switch c := LoadCmd(cmd); {
		case c.IsDependency(), c == LoadCmdDylibID:
			name, err := readLcStr(r, size, dylibCmdSize)
			if err != nil {
				return nil, &MalformedBinaryError{Offset: start, Msg: fmt.Sprintf("bad %s", c), Err: err}
			}
			if c == LoadCmdDylibID {
				l.id = name
			} else {
				l.dylibs = append(l.dylibs, Dylib{Cmd: c, Name: name})
			}
		case c == LoadCmdRpath:
			path, err := readLcStr(r, size, rpathCmdSize)
			if err != nil {
				return nil, &MalformedBinaryError{Offset: start, Msg: "bad LC_RPATH", Err: err}
			}
			l.rpaths = append(l.rpaths, path)
		default:
			if err := r.skip(int64(size) - loadCmdHeaderSize); err != nil {
				return nil, &MalformedBinaryError{Offset: start, Msg: fmt.Sprintf("load command %d (%s) runs past end of file", i, c), Err: err}
			}
		}
	}

	return &l, nil
}

// readLcStr reads the payload of a command whose first payload word is an
// lc_str offset (relative to the start of the command) and decodes the string it
// points at. minOff is the size of the fixed part of the command.
func readLcStr(r *reader, size uint32, minOff uint32) (string, error) {
	payload, err := r.read(int64(size) - loadCmdHeaderSize)
	if err != nil {
		return "", fmt.Errorf("command runs past end of file: %w", err)
	}
	if len(payload) < 4 {
		return "", fmt.Errorf("command size %d too small", size)
	}
	off := r.bo.Uint32(payload[:4])
	if off < minOff || off > size {
		return "", fmt.Errorf("string offset %d outside of command (size %d)", off, size)
	}
	return cstring(payload[off-loadCmdHeaderSize:])
}
