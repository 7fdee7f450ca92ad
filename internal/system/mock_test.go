package system

import (
	"context"
	"errors"
	"io/fs"
	"testing"
)

func TestMockFS_Exists(t *testing.T) {
	mockFS := NewMockFS()
	mockFS.AddFile("/file.txt", []byte("x"), 0644)
	mockFS.AddDir("/dir")

	if !mockFS.Exists("/file.txt") {
		t.Error("File should exist")
	}
	if !mockFS.Exists("/dir") {
		t.Error("Dir should exist")
	}
	if mockFS.Exists("/nonexistent") {
		t.Error("Nonexistent should not exist")
	}
}

func TestMockFS_IsSocket(t *testing.T) {
	mockFS := NewMockFS()
	mockFS.AddSocket("/run/vnc/bob")
	mockFS.AddFile("/run/vnc/notes", []byte("x"), 0644)

	if !mockFS.IsSocket("/run/vnc/bob") {
		t.Error("/run/vnc/bob should be a socket")
	}
	if mockFS.IsSocket("/run/vnc/notes") {
		t.Error("regular file should not be a socket")
	}
	if mockFS.IsSocket("/run/vnc/missing") {
		t.Error("missing path should not be a socket")
	}
	if !mockFS.Exists("/run/vnc") {
		t.Error("parent directory should exist")
	}
}

func TestMockFS_Remove(t *testing.T) {
	mockFS := NewMockFS()
	mockFS.AddSocket("/run/vnc/bob")

	if err := mockFS.Remove("/run/vnc/bob"); err != nil {
		t.Fatalf("Remove error: %v", err)
	}

	if mockFS.Exists("/run/vnc/bob") {
		t.Error("Socket should be removed")
	}
	if err := mockFS.Remove("/run/vnc/bob"); err != fs.ErrNotExist {
		t.Errorf("second Remove = %v, want fs.ErrNotExist", err)
	}
}

func TestMockFS_MkdirAll(t *testing.T) {
	mockFS := NewMockFS()

	if err := mockFS.MkdirAll("/a/b/c", 0755); err != nil {
		t.Fatalf("MkdirAll error: %v", err)
	}

	for _, dir := range []string{"/a", "/a/b", "/a/b/c"} {
		if !mockFS.Exists(dir) {
			t.Errorf("%s should exist", dir)
		}
	}
}

func TestMockFS_ErrorInjection(t *testing.T) {
	mockFS := NewMockFS()
	mockFS.AddSocket("/run/vnc/bob")
	mockFS.MkdirAllErr = fs.ErrPermission
	mockFS.RemoveErr = fs.ErrPermission

	if err := mockFS.MkdirAll("/run/vnc", 0o755); err != fs.ErrPermission {
		t.Errorf("MkdirAll error = %v, want ErrPermission", err)
	}
	if err := mockFS.Remove("/run/vnc/bob"); err != fs.ErrPermission {
		t.Errorf("Remove error = %v, want ErrPermission", err)
	}
	if !mockFS.IsSocket("/run/vnc/bob") {
		t.Error("failed Remove should leave the socket in place")
	}
}

func TestMockExecutor_Execute(t *testing.T) {
	exec := NewMockExecutor()
	exec.AddResponse("id", []byte("uid=1000(bob)\n"), nil)

	output, err := exec.Execute(context.Background(), "id", "bob")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	if string(output) != "uid=1000(bob)\n" {
		t.Errorf("Output = %q", string(output))
	}

	cmd, ok := exec.LastCommand()
	if !ok {
		t.Fatal("No command recorded")
	}
	if cmd.Name != "id" || cmd.String() != "id bob" {
		t.Errorf("Command = %q, want %q", cmd.String(), "id bob")
	}
}

func TestMockExecutor_MostSpecificMatch(t *testing.T) {
	exec := NewMockExecutor()
	exec.AddResponse("sudo", []byte("generic"), nil)
	exec.AddResponse("sudo useradd", []byte("useradd"), nil)
	exec.AddResponse("sudo useradd -m carol", nil, errors.New("exists"))

	out, _ := exec.Execute(context.Background(), "sudo", "chmod", "g+r", "/x")
	if string(out) != "generic" {
		t.Errorf("chmod output = %q, want generic", out)
	}
	out, _ = exec.Execute(context.Background(), "sudo", "useradd", "-m", "bob")
	if string(out) != "useradd" {
		t.Errorf("useradd bob output = %q, want useradd", out)
	}
	if _, err := exec.Execute(context.Background(), "sudo", "useradd", "-m", "carol"); err == nil {
		t.Error("expected full-command match to return its error")
	}
}

func TestMockExecutor_Start(t *testing.T) {
	exec := NewMockExecutor()
	var seen []MockCommand
	exec.OnCommand = func(c MockCommand) { seen = append(seen, c) }

	pid1, err := exec.Start("tigervncserver", "-localhost", "yes")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	pid2, _ := exec.Start("socat", "UNIX-LISTEN:/run/vnc/bob")
	if pid1 == pid2 || pid1 == 0 {
		t.Errorf("pids = %d, %d; want distinct non-zero", pid1, pid2)
	}
	if len(seen) != 2 || !seen[0].Background {
		t.Errorf("OnCommand saw %+v", seen)
	}
	if got := exec.CommandsMatching("socat"); len(got) != 1 {
		t.Errorf("CommandsMatching(socat) = %d, want 1", len(got))
	}

	exec.AddResponse("broken", nil, errors.New("no such file"))
	if _, err := exec.Start("broken"); err == nil {
		t.Error("expected Start error")
	}
}

func TestMockExecutor_DefaultResponse(t *testing.T) {
	exec := NewMockExecutor()
	exec.DefaultResponse = MockResponse{Output: []byte("default"), Err: nil}

	output, err := exec.Execute(context.Background(), "unknown", "command")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	if string(output) != "default" {
		t.Errorf("Output = %q, want %q", string(output), "default")
	}
}

func TestMockExecutor_Reset(t *testing.T) {
	exec := NewMockExecutor()
	_, _ = exec.Execute(context.Background(), "cmd1")
	_, _ = exec.Execute(context.Background(), "cmd2")

	if len(exec.Commands) != 2 {
		t.Errorf("Commands length = %d, want 2", len(exec.Commands))
	}

	exec.Reset()

	if len(exec.Commands) != 0 {
		t.Errorf("Commands length after reset = %d, want 0", len(exec.Commands))
	}
}
