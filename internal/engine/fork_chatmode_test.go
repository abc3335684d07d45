package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/keenbench/engine/internal/errinfo"
	"github.com/keenbench/engine/internal/workbench"
)

func TestWorkbenchForkRPCClonesFiles(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	os.Setenv("KEENBENCH_DATA_DIR", dataDir)
	os.Setenv("KEENBENCH_FAKE_TOOL_WORKER", "1")
	defer os.Unsetenv("KEENBENCH_DATA_DIR")
	defer os.Unsetenv("KEENBENCH_FAKE_TOOL_WORKER")

	eng, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	createResp, errInfo := eng.WorkbenchCreate(ctx, mustJSON(t, map[string]any{"name": "Fork Source"}))
	if errInfo != nil {
		t.Fatalf("create: %v", errInfo)
	}
	workbenchID := createResp.(map[string]any)["workbench_id"].(string)

	src := filepath.Join(dataDir, "notes.txt")
	if err := os.WriteFile(src, []byte("note"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, errInfo := eng.WorkbenchFilesAdd(ctx, mustJSON(t, map[string]any{"workbench_id": workbenchID, "source_paths": []string{src}})); errInfo != nil {
		t.Fatalf("files add: %v", errInfo)
	}

	forkResp, errInfo := eng.WorkbenchFork(ctx, mustJSON(t, map[string]any{
		"workbench_id": workbenchID,
		"mode":         workbench.ForkModeCloneFilesOnly,
		"name":         "Fork Copy",
	}))
	if errInfo != nil {
		t.Fatalf("fork: %v", errInfo)
	}
	forkedID := forkResp.(map[string]any)["workbench_id"].(string)
	if forkedID == "" || forkedID == workbenchID {
		t.Fatalf("expected new workbench id, got %q", forkedID)
	}

	filesResp, errInfo := eng.WorkbenchFilesList(ctx, mustJSON(t, map[string]any{"workbench_id": forkedID}))
	if errInfo != nil {
		t.Fatalf("files list: %v", errInfo)
	}
	files := filesResp.(map[string]any)["files"].([]workbench.FileEntry)
	if len(files) != 1 || files[0].Path != "notes.txt" {
		t.Fatalf("expected forked workbench to contain notes.txt, got %#v", files)
	}
}

func TestWorkbenchForkRejectsInvalidMode(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	os.Setenv("KEENBENCH_DATA_DIR", dataDir)
	os.Setenv("KEENBENCH_FAKE_TOOL_WORKER", "1")
	defer os.Unsetenv("KEENBENCH_DATA_DIR")
	defer os.Unsetenv("KEENBENCH_FAKE_TOOL_WORKER")

	eng, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	createResp, errInfo := eng.WorkbenchCreate(ctx, mustJSON(t, map[string]any{"name": "Fork Modes"}))
	if errInfo != nil {
		t.Fatalf("create: %v", errInfo)
	}
	workbenchID := createResp.(map[string]any)["workbench_id"].(string)

	_, errInfo = eng.WorkbenchFork(ctx, mustJSON(t, map[string]any{
		"workbench_id": workbenchID,
		"mode":         "clone_everything_twice",
	}))
	if errInfo == nil || errInfo.ErrorCode != errinfo.CodeValidationFailed {
		t.Fatalf("expected VALIDATION_FAILED for bad fork mode, got %#v", errInfo)
	}
}

func TestWorkbenchForkBlockedByDraft(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	os.Setenv("KEENBENCH_DATA_DIR", dataDir)
	os.Setenv("KEENBENCH_FAKE_TOOL_WORKER", "1")
	defer os.Unsetenv("KEENBENCH_DATA_DIR")
	defer os.Unsetenv("KEENBENCH_FAKE_TOOL_WORKER")

	eng, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	createResp, errInfo := eng.WorkbenchCreate(ctx, mustJSON(t, map[string]any{"name": "Fork Draft"}))
	if errInfo != nil {
		t.Fatalf("create: %v", errInfo)
	}
	workbenchID := createResp.(map[string]any)["workbench_id"].(string)
	if _, err := eng.workbenches.CreateDraftWithSource(workbenchID, "workshop", "agent"); err != nil {
		t.Fatalf("create draft: %v", err)
	}

	_, errInfo = eng.WorkbenchFork(ctx, mustJSON(t, map[string]any{
		"workbench_id": workbenchID,
		"mode":         workbench.ForkModeCloneAll,
	}))
	if errInfo == nil || errInfo.ErrorCode != errinfo.CodeConflictDraftExists {
		t.Fatalf("expected CONFLICT_DRAFT_EXISTS, got %#v", errInfo)
	}
}

func TestCheckpointRestoreBlockedByDraft(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	os.Setenv("KEENBENCH_DATA_DIR", dataDir)
	os.Setenv("KEENBENCH_FAKE_TOOL_WORKER", "1")
	defer os.Unsetenv("KEENBENCH_DATA_DIR")
	defer os.Unsetenv("KEENBENCH_FAKE_TOOL_WORKER")

	eng, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	createResp, errInfo := eng.WorkbenchCreate(ctx, mustJSON(t, map[string]any{"name": "Restore Gate"}))
	if errInfo != nil {
		t.Fatalf("create: %v", errInfo)
	}
	workbenchID := createResp.(map[string]any)["workbench_id"].(string)
	ckptResp, errInfo := eng.CheckpointCreate(ctx, mustJSON(t, map[string]any{"workbench_id": workbenchID}))
	if errInfo != nil {
		t.Fatalf("checkpoint: %v", errInfo)
	}
	checkpointID := ckptResp.(map[string]any)["checkpoint_id"].(string)

	if _, err := eng.workbenches.CreateDraftWithSource(workbenchID, "workshop", "agent"); err != nil {
		t.Fatalf("create draft: %v", err)
	}
	_, errInfo = eng.CheckpointRestore(ctx, mustJSON(t, map[string]any{
		"workbench_id":  workbenchID,
		"checkpoint_id": checkpointID,
	}))
	if errInfo == nil || errInfo.ErrorCode != errinfo.CodeRestoreBlocked {
		t.Fatalf("expected RESTORE_BLOCKED_BY_DRAFT, got %#v", errInfo)
	}
}

func TestWorkshopSetChatModePersists(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	os.Setenv("KEENBENCH_DATA_DIR", dataDir)
	os.Setenv("KEENBENCH_FAKE_TOOL_WORKER", "1")
	defer os.Unsetenv("KEENBENCH_DATA_DIR")
	defer os.Unsetenv("KEENBENCH_FAKE_TOOL_WORKER")

	eng, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	createResp, errInfo := eng.WorkbenchCreate(ctx, mustJSON(t, map[string]any{"name": "Chat Mode"}))
	if errInfo != nil {
		t.Fatalf("create: %v", errInfo)
	}
	workbenchID := createResp.(map[string]any)["workbench_id"].(string)

	stateResp, errInfo := eng.WorkshopGetState(ctx, mustJSON(t, map[string]any{"workbench_id": workbenchID}))
	if errInfo != nil {
		t.Fatalf("get state: %v", errInfo)
	}
	if got := stateResp.(map[string]any)["chat_mode"]; got != "workshop" {
		t.Fatalf("expected default chat_mode=workshop, got %#v", got)
	}

	if _, errInfo := eng.WorkshopSetChatMode(ctx, mustJSON(t, map[string]any{
		"workbench_id": workbenchID,
		"chat_mode":    "chat",
	})); errInfo != nil {
		t.Fatalf("set chat mode: %v", errInfo)
	}
	stateResp, errInfo = eng.WorkshopGetState(ctx, mustJSON(t, map[string]any{"workbench_id": workbenchID}))
	if errInfo != nil {
		t.Fatalf("get state: %v", errInfo)
	}
	if got := stateResp.(map[string]any)["chat_mode"]; got != "chat" {
		t.Fatalf("expected chat_mode=chat, got %#v", got)
	}

	if _, errInfo := eng.WorkshopSetChatMode(ctx, mustJSON(t, map[string]any{
		"workbench_id": workbenchID,
		"chat_mode":    "debate",
	})); errInfo == nil {
		t.Fatalf("expected validation error for unknown chat mode")
	}
}

func TestWorkbenchMutationLockReturnsBusy(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	os.Setenv("KEENBENCH_DATA_DIR", dataDir)
	os.Setenv("KEENBENCH_FAKE_TOOL_WORKER", "1")
	defer os.Unsetenv("KEENBENCH_DATA_DIR")
	defer os.Unsetenv("KEENBENCH_FAKE_TOOL_WORKER")

	eng, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	createResp, errInfo := eng.WorkbenchCreate(ctx, mustJSON(t, map[string]any{"name": "Busy"}))
	if errInfo != nil {
		t.Fatalf("create: %v", errInfo)
	}
	workbenchID := createResp.(map[string]any)["workbench_id"].(string)

	unlock, errInfo := eng.lockWorkbenchMutation(workbenchID, "files_add")
	if errInfo != nil {
		t.Fatalf("acquire lock: %v", errInfo)
	}

	_, errInfo = eng.CheckpointCreate(ctx, mustJSON(t, map[string]any{"workbench_id": workbenchID}))
	if errInfo == nil || errInfo.ErrorCode != errinfo.CodeBusy {
		t.Fatalf("expected BUSY while another mutation holds the lock, got %#v", errInfo)
	}
	if !errInfo.Retryable {
		t.Fatalf("expected BUSY to be retryable")
	}

	unlock()
	if _, errInfo := eng.CheckpointCreate(ctx, mustJSON(t, map[string]any{"workbench_id": workbenchID})); errInfo != nil {
		t.Fatalf("checkpoint after unlock: %v", errInfo)
	}

	// Locks are per workbench; a different workbench is unaffected.
	otherResp, errInfo := eng.WorkbenchCreate(ctx, mustJSON(t, map[string]any{"name": "Other"}))
	if errInfo != nil {
		t.Fatalf("create other: %v", errInfo)
	}
	otherID := otherResp.(map[string]any)["workbench_id"].(string)
	unlock, errInfo = eng.lockWorkbenchMutation(workbenchID, "publish")
	if errInfo != nil {
		t.Fatalf("reacquire lock: %v", errInfo)
	}
	defer unlock()
	if _, errInfo := eng.CheckpointCreate(ctx, mustJSON(t, map[string]any{"workbench_id": otherID})); errInfo != nil {
		t.Fatalf("checkpoint on other workbench: %v", errInfo)
	}
}
