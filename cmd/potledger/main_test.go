package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"pot-ledger/pkg/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes one CLI invocation against a LevelDB ledger in dir.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("POT_BACKEND", "kv")
	t.Setenv("POT_KV_DRIVER", "leveldb")
	t.Setenv("POT_LEVELDB_PATH", filepath.Join(dir, "ledger.db"))
	t.Setenv("POT_AWARD_TABLE", "demo")
	t.Setenv("POT_ACTIVITY", "none")

	var w, e bytes.Buffer
	app := newApp(&w, &e)
	err := app.Run(append([]string{"potledger", "--env-file", filepath.Join(dir, "absent.env")}, args...))
	return w.String(), err
}

func TestCLI_SplitConvertUndo(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "split", "Alice", "7-10")
	require.NoError(t, err)
	var tx ledger.Transaction
	require.NoError(t, json.Unmarshal([]byte(out), &tx))
	assert.EqualValues(t, 1, tx.Seq)
	assert.Equal(t, "Alice", tx.Debtor)

	out, err = run(t, dir, "convert", "Bob", "7-10")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &tx))
	assert.Equal(t, "0.25", tx.Amount.String())

	out, err = run(t, dir, "transactions", "--count", "5")
	require.NoError(t, err)
	var txns []ledger.Transaction
	require.NoError(t, json.Unmarshal([]byte(out), &txns))
	require.Len(t, txns, 2)
	assert.EqualValues(t, 2, txns[0].Seq, "newest first")

	out, err = run(t, dir, "undo")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &tx))
	assert.EqualValues(t, 2, tx.Seq)

	out, err = run(t, dir, "balances")
	require.NoError(t, err)
	var balances []ledger.Balance
	require.NoError(t, json.Unmarshal([]byte(out), &balances))
	for _, b := range balances {
		switch b.Name {
		case ledger.Pot:
			assert.Equal(t, "1.00", b.Amount)
		case "Alice":
			assert.Equal(t, "-1.00", b.Amount)
		}
	}
}

func TestCLI_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "split", "Alice")
	assert.Error(t, err, "missing SPLIT")

	_, err = run(t, dir, "split", "Alice", "11-12")
	assert.ErrorIs(t, err, ledger.ErrInvalidSplit)

	_, err = run(t, dir, "undo")
	require.Error(t, err)
	assert.True(t, ledger.IsNotFound(err))

	_, err = run(t, dir, "transactions", "--count", "0")
	assert.Error(t, err)
}

func TestCLI_ProvisionAndSplits(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("POT_AUTO_PROVISION", "false")

	out, err := run(t, dir, "provision", "Zed", "Yan")
	require.NoError(t, err)
	var names []string
	require.NoError(t, json.Unmarshal([]byte(out), &names))
	assert.ElementsMatch(t, []string{ledger.Pot, "Zed", "Yan"}, names)

	out, err = run(t, dir, "splits")
	require.NoError(t, err)
	var splits []string
	require.NoError(t, json.Unmarshal([]byte(out), &splits))
	assert.Len(t, splits, 9)

	out, err = run(t, dir, "reconcile")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, `"drift": false`))
}

func TestCLI_Version(t *testing.T) {
	var w, e bytes.Buffer
	require.NoError(t, newApp(&w, &e).Run([]string{"potledger", "version"}))
	assert.Equal(t, version+"\n", w.String())
}
