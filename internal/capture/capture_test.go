package capture

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/droplog/droplog/internal/errors"
)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		raw  string
		want Spec
	}{
		{"stdin", Spec{Kind: KindStdin}},
		{"-", Spec{Kind: KindStdin}},
		{"file:/tmp/chat.txt", Spec{Kind: KindFile, Arg: "/tmp/chat.txt"}},
		{"exec: ocr --box 1", Spec{Kind: KindExec, Arg: "ocr --box 1"}},
	}
	for _, tt := range tests {
		got, err := ParseSpec(tt.raw)
		require.NoError(t, err, tt.raw)
		require.Equal(t, tt.want, got, tt.raw)
	}

	for _, bad := range []string{"", "file:", "ftp:/x", "nonsense"} {
		_, err := ParseSpec(bad)
		require.Error(t, err, bad)
		require.True(t, errors.Is(err, errors.ErrInvalidRequest), bad)
	}

	require.Equal(t, "file:/tmp/chat.txt", Spec{Kind: KindFile, Arg: "/tmp/chat.txt"}.String())
	require.Equal(t, "stdin", Spec{Kind: KindStdin}.String())
}

func TestSplitRows(t *testing.T) {
	rows := splitRows("[10:00:00] a  \r\n\n   \ncontinued")
	require.Equal(t, []RawLine{
		{Text: "[10:00:00] a", Index: 0},
		{Text: "continued", Index: 3},
	}, rows)
}

func TestScreenSource_ReadsRenderedRows(t *testing.T) {
	ctx := context.Background()
	s := NewScreenSource(nil, 80, 10)

	found, err := s.Find(ctx)
	require.NoError(t, err)
	require.False(t, found, "blank screen should not count as found")

	_, err = s.Write([]byte("[12:00:01] Materials gained:\n5 x Iron ore\n"))
	require.NoError(t, err)

	found, err = s.Find(ctx)
	require.NoError(t, err)
	require.True(t, found)

	rows, err := s.Read(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "[12:00:01] Materials gained:", rows[0].Text)
	require.Equal(t, "5 x Iron ore", rows[1].Text)

	// unchanged screen reads as nothing new
	rows, err = s.Read(ctx)
	require.NoError(t, err)
	require.Nil(t, rows)
}

func TestScreenSource_CursorRedraw(t *testing.T) {
	ctx := context.Background()
	s := NewScreenSource(nil, 80, 10)

	_, _ = s.Write([]byte("\x1b[1;1H[10:00:00] You receive: 1 x Coal"))
	_, _ = s.Write([]byte("\x1b[2;1H\x1b[31m[10:00:01] Materials gained: 2 x Coal\x1b[0m"))

	rows, err := s.Read(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "[10:00:01] Materials gained: 2 x Coal", rows[1].Text)
	for _, r := range rows {
		require.NotContains(t, r.Text, "\x1b[")
	}
}

func TestScreenSource_PumpsReader(t *testing.T) {
	ctx := context.Background()
	s := NewScreenSource(strings.NewReader("[08:15:30] The Seren spirit gifts you: 10 x Rune essence\n"), 80, 10)

	_, err := s.Find(ctx)
	require.NoError(t, err)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader was not drained")
	}
	require.NoError(t, s.Err())

	rows, err := s.Read(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Contains(t, rows[0].Text, "10 x Rune essence")
}

func TestScreenSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewScreenSource(nil, 80, 10)
	_, err := s.Read(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFileSource_FindAndRead(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.txt")
	src := NewFileSource(path)
	t.Cleanup(func() { src.Close() })

	found, err := src.Find(ctx)
	require.NoError(t, err)
	require.False(t, found, "missing file should not be found")

	require.NoError(t, os.WriteFile(path, []byte("[10:00:00] Materials gained: 3 x Coal\n"), 0600))
	found, err = src.Find(ctx)
	require.NoError(t, err)
	require.True(t, found)

	rows, err := src.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, []RawLine{{Text: "[10:00:00] Materials gained: 3 x Coal", Index: 0}}, rows)

	rows, err = src.Read(ctx)
	require.NoError(t, err)
	require.Nil(t, rows, "no change since last read")

	require.NoError(t, os.WriteFile(path, []byte("[10:00:00] Materials gained: 3 x Coal\n[10:00:02] Materials gained: 1 x Iron ore\n"), 0600))
	require.Eventually(t, func() bool {
		rows, err = src.Read(ctx)
		return err == nil && len(rows) == 2
	}, 3*time.Second, 20*time.Millisecond)
	require.Equal(t, "[10:00:02] Materials gained: 1 x Iron ore", rows[1].Text)
}

func TestFileSource_CloseIdempotent(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "none.txt"))
	require.NoError(t, src.Close())
	require.NoError(t, Close(src))
}

func TestOpen(t *testing.T) {
	src, err := Open(Spec{Kind: KindStdin}, strings.NewReader(""))
	require.NoError(t, err)
	require.IsType(t, &ScreenSource{}, src)

	src, err = Open(Spec{Kind: KindFile, Arg: "/tmp/x"}, nil)
	require.NoError(t, err)
	require.IsType(t, &FileSource{}, src)

	src, err = Open(Spec{Kind: KindExec, Arg: "true"}, nil)
	require.NoError(t, err)
	require.IsType(t, &CommandSource{}, src)
	require.NoError(t, Close(src))

	_, err = Open(Spec{Kind: "ftp"}, nil)
	require.Error(t, err)
}

func TestCommandSource_ReadsOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pty not supported on windows")
	}
	ctx := context.Background()
	src := NewCommandSource("printf '[10:00:00] You receive: 1 x Omen crest\\n'; sleep 5", 80, 10)
	t.Cleanup(func() { src.Close() })

	require.Eventually(t, func() bool {
		found, err := src.Find(ctx)
		return err == nil && found
	}, 3*time.Second, 20*time.Millisecond)

	rows, err := src.Read(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	require.Equal(t, "[10:00:00] You receive: 1 x Omen crest", rows[0].Text)
}

var _ io.Closer = (*CommandSource)(nil)
var _ io.Closer = (*FileSource)(nil)
