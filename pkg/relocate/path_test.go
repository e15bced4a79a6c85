package relocate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelativePath(t *testing.T) {
	type args struct {
		from string
		to   string
	}
	tests := []struct {
		name string
		args args
		want string
	}{
		{name: "sibling", args: args{"/opt/app/bin", "/opt/app/lib"}, want: "../lib"},
		{name: "same", args: args{"/opt/app/lib", "/opt/app/lib"}, want: "."},
		{name: "same with trailing slash", args: args{"/opt/app/lib/", "/opt/app/lib"}, want: "."},
		{name: "child", args: args{"/opt/app", "/opt/app/lib/plugins"}, want: "lib/plugins"},
		{name: "parent", args: args{"/opt/app/lib/plugins", "/opt/app"}, want: "../.."},
		{name: "disjoint", args: args{"/a/b/c", "/x/y"}, want: "../../../x/y"},
		{name: "from root", args: args{"/", "/usr/local/lib"}, want: "usr/local/lib"},
		{name: "to root", args: args{"/usr/local", "/"}, want: "../.."},
		{name: "unclean", args: args{"/opt/app/bin/../bin", "/opt/app/./lib"}, want: "../lib"},
		{name: "shared name prefix", args: args{"/opt/lib", "/opt/libexec"}, want: "../libexec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RelativePath(tt.args.from, tt.args.to))
		})
	}
}

func TestRpath(t *testing.T) {
	assert.Equal(t, "@loader_path/../lib", Rpath(LoaderPath, "/opt/app/bin", "/opt/app/lib"))
	assert.Equal(t, "@loader_path", Rpath(LoaderPath, "/opt/app/lib", "/opt/app/lib"))
	assert.Equal(t, "@executable_path/../Frameworks", Rpath(ExecutablePath, "/A.app/Contents/MacOS", "/A.app/Contents/Frameworks"))
	assert.Equal(t, "@rpath/libfoo.1.dylib", RpathTarget("libfoo.1.dylib"))
}

func TestCandidates(t *testing.T) {
	rpaths := []string{"@loader_path/../lib", "@executable_path/../Frameworks", "/opt/x/lib", "@rpath/nested", "relative/dir"}

	tests := []struct {
		name string
		dep  string
		want []string
	}{
		{
			name: "absolute",
			dep:  "/opt/x/libfoo.dylib",
			want: []string{"/opt/x/libfoo.dylib"},
		},
		{
			name: "loader path",
			dep:  "@loader_path/../Frameworks/libfoo.dylib",
			want: []string{"/build/lib/Frameworks/libfoo.dylib"},
		},
		{
			name: "executable path",
			dep:  "@executable_path/libfoo.dylib",
			want: []string{"/build/bin/libfoo.dylib"},
		},
		{
			name: "rpath",
			dep:  "@rpath/libfoo.dylib",
			want: []string{
				"/build/lib/lib/libfoo.dylib",
				"/build/Frameworks/libfoo.dylib",
				"/opt/x/lib/libfoo.dylib",
			},
		},
		{
			name: "bare name",
			dep:  "libfoo.dylib",
			want: nil,
		},
		{
			name: "unknown token",
			dep:  "@foo/libfoo.dylib",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, candidates(tt.dep, "/build/lib/sub", "/build/bin", rpaths))
		})
	}
}
