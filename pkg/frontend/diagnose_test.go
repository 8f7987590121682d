package frontend

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestBuildReaderErrorRender(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		kind  Kind
		want  []string
	}{
		{
			name:  "syntax error",
			files: map[string]string{"moz.build": "SOURCES += ['a.c'\nx = 1\n"},
			kind:  KindSyntax,
			want:  []string{"syntax error on line", "Fix the syntax error and try again."},
		},
		{
			name:  "unknown variable read",
			files: map[string]string{"moz.build": "x = SOURCSE\n"},
			kind:  KindUnknownRead,
			want: []string{
				"attempt to read a reserved UPPERCASE variable that does not exist",
				"    SOURCSE\n",
				"Maybe you meant SOURCES",
				"the set of valid variables is",
			},
		},
		{
			name:  "deprecated variable write",
			files: map[string]string{"moz.build": "PARALLEL_DIRS = ['a']\n"},
			kind:  KindUnknownWrite,
			want: []string{
				"attempt to write a reserved UPPERCASE variable",
				"PARALLEL_DIRS is no longer valid. Use DIRS instead.",
			},
		},
		{
			name:  "reassignment",
			files: map[string]string{"moz.build": "SOURCES = ['a.c']\nSOURCES = ['b.c']\n"},
			kind:  KindReassign,
			want: []string{
				"The error was triggered on line 2 of this file:\n\n    SOURCES = ['b.c']",
				`Maybe you meant "+=" instead of "="?`,
			},
		},
		{
			name:  "type mismatch",
			files: map[string]string{"moz.build": "LIBRARY_NAME = ['xul']\n"},
			kind:  KindTypeMismatch,
			want: []string{
				"write an illegal value to a special variable",
				"    LIBRARY_NAME\n",
				"    list\n",
			},
		},
		{
			name:  "undefined local",
			files: map[string]string{"moz.build": "SOURCES += [missing]\n"},
			kind:  KindUnknownRead,
			want:  []string{"reference to an undefined local variable:\n\n    missing"},
		},
		{
			name:  "error function",
			files: map[string]string{"moz.build": "# comment\nerror('platform not supported')\n"},
			kind:  KindCalledError,
			want: []string{
				"triggered on line 2",
				"called the error() function",
				"    platform not supported\n",
			},
		},
		{
			name: "error in included file",
			files: map[string]string{
				"moz.build":    "include('inc.mozbuild')\n",
				"inc.mozbuild": "LIBRARY_NAME = 1\n",
			},
			kind: KindTypeMismatch,
			want: []string{"inc.mozbuild\n\nThis file was included as part of processing:", "moz.build\n"},
		},
		{
			name:  "missing include",
			files: map[string]string{"moz.build": "include('nope.mozbuild')\n"},
			kind:  KindFileNotFound,
			want:  []string{"referenced a path that does not exist", "nope.mozbuild"},
		},
		{
			name:  "illegal include",
			files: map[string]string{"moz.build": "include('/../../outside.mozbuild')\n"},
			kind:  KindIllegalPath,
			want:  []string{"illegal file access", "outside.mozbuild"},
		},
		{
			name: "validation failure",
			files: map[string]string{
				"moz.build":   "DIRS += ['a', 'a']\n",
				"a/moz.build": "",
			},
			kind: KindValidation,
			want: []string{"validating the result of the execution", "registered multiple times"},
		},
		{
			name:  "script error",
			files: map[string]string{"moz.build": "x = 1 + 'a'\n"},
			kind:  KindScript,
			want:  []string{"appears to be the fault of the script"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testEnv(t)
			writeTree(t, cfg.TopSrcDir, tt.files)
			_, err := collect(NewReader(cfg).ReadTopSrcDir(background()))
			var bre *BuildReaderError
			if !errors.As(err, &bre) {
				t.Fatalf("error = %v, want BuildReaderError", err)
			}
			if bre.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s", bre.Kind, tt.kind)
			}
			out := bre.Render(nil)
			if !strings.Contains(out, "ERROR PROCESSING MOZBUILD FILE") {
				t.Errorf("rendered report has no banner:\n%s", out)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("rendered report does not contain %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestBuildReaderErrorIs(t *testing.T) {
	cfg := testEnv(t)
	writeTree(t, cfg.TopSrcDir, map[string]string{"moz.build": "SOURCES = 1\n"})
	_, err := collect(NewReader(cfg).ReadTopSrcDir(background()))
	if !errors.Is(err, &BuildReaderError{Kind: KindTypeMismatch}) {
		t.Errorf("errors.Is(%v, type_mismatch) = false", err)
	}
	if errors.Is(err, &BuildReaderError{Kind: KindSyntax}) {
		t.Errorf("errors.Is(%v, syntax) = true", err)
	}
}

func TestActualFileForLoadError(t *testing.T) {
	cfg := testEnv(t)
	writeTree(t, cfg.TopSrcDir, map[string]string{
		"moz.build":    "include('inc.mozbuild')\n",
		"inc.mozbuild": "include('gone.mozbuild')\n",
	})
	_, err := collect(NewReader(cfg).ReadTopSrcDir(background()))
	var bre *BuildReaderError
	if !errors.As(err, &bre) {
		t.Fatalf("error = %v, want BuildReaderError", err)
	}
	if want := cfg.TopSrcDir + "/inc.mozbuild"; bre.ActualFile() != want {
		t.Errorf("ActualFile() = %s, want %s", bre.ActualFile(), want)
	}
	if want := cfg.TopSrcDir + "/moz.build"; bre.MainFile() != want {
		t.Errorf("MainFile() = %s, want %s", bre.MainFile(), want)
	}
}

func TestCloseMatches(t *testing.T) {
	candidates := []string{"DIRS", "TEST_DIRS", "SOURCES", "HOST_SOURCES", "DEFINES", "CFLAGS"}
	tests := []struct {
		word string
		n    int
		want []string
	}{
		{word: "SOURCSE", n: 2, want: []string{"SOURCES"}},
		{word: "DIR", n: 2, want: []string{"DIRS"}},
		{word: "TEST_DIR", n: 2, want: []string{"TEST_DIRS"}},
		{word: "HOST_SOURCE", n: 1, want: []string{"HOST_SOURCES"}},
		{word: "XYZZY", n: 2, want: nil},
		{word: "", n: 2, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.word, func(t *testing.T) {
			got := closeMatches(tt.word, candidates, tt.n)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("closeMatches(%q) mismatch (-want +got):\n%s", tt.word, diff)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "illegal path", err: &LoadError{IllegalPath: "/x"}, want: KindIllegalPath},
		{name: "missing file", err: &LoadError{ReadError: "/x"}, want: KindFileNotFound},
		{name: "called", err: &CalledError{Message: "boom"}, want: KindCalledError},
		{name: "validation", err: &ValidationError{Message: "bad"}, want: KindValidation},
		{name: "plain error", err: errors.New("boom"), want: KindInternal},
		{
			name: "unknown write",
			err:  &ExecutionError{Err: &NameError{Namespace: NamespaceGlobal, Op: OpSetUnknown, Name: "X"}},
			want: KindUnknownWrite,
		},
		{
			name: "reassign",
			err:  &ExecutionError{Err: &NameError{Namespace: NamespaceGlobal, Op: OpReassign, Name: "X"}},
			want: KindReassign,
		},
		{
			name: "mismatch",
			err:  &ExecutionError{Err: &TypeMismatchError{Name: "X", Got: Int(1)}},
			want: KindTypeMismatch,
		},
		{name: "script", err: &ExecutionError{Err: errors.New("boom")}, want: KindScript},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}
