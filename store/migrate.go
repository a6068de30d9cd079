package store

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// restoreAtomic runs replace(snapshot) and, on failure, serializes snapshot
// to an emergency file named by Unix timestamp so the data isn't lost. The
// original error from replace is still returned to the caller.
func restoreAtomic(snapshot *Snapshot, replace func(*Snapshot) error) error {
	if err := replace(snapshot); err != nil {
		path := fmt.Sprintf("workflow-store-emergency-%d.json", time.Now().Unix())
		data, marshalErr := json.MarshalIndent(snapshot, "", "  ")
		if marshalErr == nil {
			_ = os.WriteFile(path, data, 0o600)
		}
		return fmt.Errorf("store: restore failed, snapshot preserved at %s: %w", path, err)
	}
	return nil
}
