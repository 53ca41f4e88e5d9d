package launcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if IsWorker(os.Args) {
		os.Exit(helperWorker(WorkerArgs(os.Args)))
	}
	os.Exit(m.Run())
}

// helperWorker stands in for the real worker: args are
// [verbosity, command, primaryArg, extra...].
func helperWorker(args []string) int {
	if len(args) < 3 {
		return 2
	}
	switch args[1] {
	case "echo":
		io.Copy(os.Stdout, os.Stdin)
		fmt.Fprintln(os.Stderr, "to stderr")
		code, _ := strconv.Atoi(args[2])
		return code
	case "args":
		for _, a := range args {
			fmt.Println(a)
		}
		return 0
	case "pwd":
		wd, _ := os.Getwd()
		fmt.Println(wd)
		return 0
	case "env":
		fmt.Println(os.Getenv(args[2]))
		return 0
	case "hang":
		fmt.Println("ready")
		time.Sleep(time.Hour)
		return 0
	case "stubborn":
		signal.Ignore(syscall.SIGTERM)
		fmt.Println("ready")
		time.Sleep(time.Hour)
		return 0
	}
	return 2
}

func launch(t *testing.T, l *Launcher, e Entry) *Child {
	t.Helper()
	child, err := l.Launch(context.Background(), e)
	require.NoError(t, err)
	t.Cleanup(func() {
		child.Terminate(time.Second)
		child.CloseOutput()
		child.Release()
	})
	return child
}

func TestIsWorker(t *testing.T) {
	assert.True(t, IsWorker([]string{"addinscan", WorkerFlag, "1", "scan", ""}))
	assert.False(t, IsWorker([]string{"addinscan", "scan"}))
	assert.False(t, IsWorker([]string{"addinscan"}))
	assert.False(t, IsWorker([]string{"addinscan", "scan", WorkerFlag}))

	assert.Equal(t, []string{"1", "scan", ""}, WorkerArgs([]string{"addinscan", WorkerFlag, "1", "scan", ""}))
	assert.Nil(t, WorkerArgs([]string{"addinscan", "version"}))
}

func TestEntryArgs(t *testing.T) {
	e := Entry{Verbosity: 2, Command: "get-desc", PrimaryArg: "in.addin", Extra: []string{"out.yaml"}}
	assert.Equal(t, []string{WorkerFlag, "2", "get-desc", "in.addin", "out.yaml"}, e.Args())

	e = Entry{Verbosity: 1, Command: "scan"}
	assert.Equal(t, []string{WorkerFlag, "1", "scan", ""}, e.Args())
}

func TestLaunchRedirectsStdio(t *testing.T) {
	child := launch(t, New(), Entry{Command: "echo", PrimaryArg: "3"})

	_, err := io.WriteString(child.Stdin(), "hello\nworld\n")
	require.NoError(t, err)
	require.NoError(t, child.Stdin().Close())

	out, err := io.ReadAll(child.Stdout())
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", string(out))

	code, err := child.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	assert.Eventually(t, func() bool {
		return child.Stderr() == "to stderr\n"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLaunchPassesEmptyPrimaryArgument(t *testing.T) {
	child := launch(t, New(), Entry{Verbosity: 3, Command: "args", Extra: []string{"x y"}})
	child.Stdin().Close()

	out, err := io.ReadAll(child.Stdout())
	require.NoError(t, err)
	assert.Equal(t, "3\nargs\n\nx y\n", string(out))
}

func TestLaunchWorkingDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	l := New(WithWorkingDir(dir), WithEnv("ADDINSCAN_LAUNCHER_TEST=from-launcher"))

	child := launch(t, l, Entry{Command: "pwd"})
	child.Stdin().Close()
	out, err := io.ReadAll(child.Stdout())
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(string(out[:len(out)-1]))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	child = launch(t, l, Entry{Command: "env", PrimaryArg: "ADDINSCAN_LAUNCHER_TEST"})
	child.Stdin().Close()
	out, err = io.ReadAll(child.Stdout())
	require.NoError(t, err)
	assert.Equal(t, "from-launcher\n", string(out))
}

func TestLaunchCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Launch(ctx, Entry{Command: "echo"})
	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTempCopyAcquireRelease(t *testing.T) {
	parent := t.TempDir()
	img, err := TempCopy{Dir: parent}.Acquire()
	require.NoError(t, err)
	assert.True(t, img.Temporary())

	info, err := os.Stat(img.Path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0100)
	assert.NotEqual(t, filepath.Dir(img.Path), img.WorkDir)

	require.NoError(t, img.Release())
	require.NoError(t, img.Release())

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTempCopyRunsWorker(t *testing.T) {
	parent := t.TempDir()
	l := New(WithImageSource(TempCopy{Dir: parent}))

	child := launch(t, l, Entry{Command: "echo", PrimaryArg: "0"})
	assert.True(t, child.Image().Temporary())
	child.Stdin().Close()
	_, err := io.ReadAll(child.Stdout())
	require.NoError(t, err)
	code, err := child.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	require.NoError(t, child.Release())
	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTempCopyReleasedWhenStartFails(t *testing.T) {
	bogus := filepath.Join(t.TempDir(), "not-a-program")
	require.NoError(t, os.WriteFile(bogus, []byte("plain text"), 0644))

	parent := t.TempDir()
	l := New(WithImageSource(TempCopy{Executable: bogus, Dir: parent}))

	_, err := l.Launch(context.Background(), Entry{Command: "scan"})
	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSelfImageMissingExecutable(t *testing.T) {
	_, err := SelfImage{Executable: filepath.Join(t.TempDir(), "missing")}.Acquire()
	assert.Error(t, err)
}

func waitReady(t *testing.T, child *Child) {
	t.Helper()
	line, err := bufio.NewReader(child.Stdout()).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "ready\n", line)
}

func TestTerminate(t *testing.T) {
	child := launch(t, New(), Entry{Command: "hang"})
	waitReady(t, child)

	child.Terminate(5 * time.Second)

	select {
	case <-child.Exited():
	default:
		t.Fatal("child still running after Terminate")
	}
	code, err := child.Wait()
	require.NoError(t, err)
	assert.NotEqual(t, 0, code)
}

func TestTerminateKillsAfterGrace(t *testing.T) {
	child := launch(t, New(), Entry{Command: "stubborn"})
	waitReady(t, child)

	start := time.Now()
	child.Terminate(200 * time.Millisecond)
	assert.Less(t, time.Since(start), 10*time.Second)

	code, _ := child.Wait()
	assert.NotEqual(t, 0, code)
}

func TestCloseOutputUnblocksRead(t *testing.T) {
	child := launch(t, New(), Entry{Command: "hang"})
	waitReady(t, child)

	readDone := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(child.Stdout())
		readDone <- err
	}()

	child.CloseOutput()
	select {
	case <-readDone:
	case <-time.After(5 * time.Second):
		t.Fatal("read did not return after CloseOutput")
	}
}
