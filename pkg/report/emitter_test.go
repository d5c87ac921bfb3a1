package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilsec/azrbac/pkg/types"
)

func sampleDefinitions() []types.RoleDefinition {
	return []types.RoleDefinition{
		{
			RoleDefinitionName: "Reader",
			RoleDefinitionID:   "/providers/Microsoft.Authorization/roleDefinitions/def-1",
			IsCustom:           false,
			Description:        "View all resources",
			PermissionsCount:   1,
			AssignableScopes:   "/",
		},
	}
}

func sampleAssignments() []types.RoleAssignment {
	return []types.RoleAssignment{
		{
			Scope:              "/subscriptions/sub-a",
			ScopeType:          types.ScopeSubscription,
			SubscriptionID:     "sub-a",
			RoleDefinitionID:   "def-1",
			RoleDefinitionName: "Reader",
			AssignmentID:       "ra-1",
			PrincipalID:        "u1",
			PrincipalType:      types.PrincipalUser,
			Inherited:          false,
		},
		{
			Scope:              "/subscriptions/sub-a/resourceGroups/rg-1",
			ScopeType:          types.ScopeResourceGroup,
			SubscriptionID:     "sub-a",
			ResourceGroup:      "rg-1",
			RoleDefinitionID:   "def-1",
			RoleDefinitionName: "Reader",
			AssignmentID:       "ra-2",
			PrincipalID:        "u1",
			PrincipalType:      types.PrincipalUser,
			Inherited:          true,
		},
		{
			Scope:              "/subscriptions/sub-b",
			ScopeType:          types.ScopeSubscription,
			SubscriptionID:     "sub-b",
			RoleDefinitionID:   "def-1",
			RoleDefinitionName: "Reader",
			AssignmentID:       "ra-3",
			PrincipalID:        "sp1",
			PrincipalType:      types.PrincipalServicePrincipal,
		},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(raw, utf8BOM), "%s must start with a UTF-8 BOM", path)

	records, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, utf8BOM))).ReadAll()
	require.NoError(t, err)
	return records
}

func TestEmitWritesCSVArtifacts(t *testing.T) {
	dir := t.TempDir()
	emitter := NewEmitter(nil, Options{OutputDir: dir})

	index, err := emitter.Emit(sampleDefinitions(), sampleAssignments(), nil)
	require.NoError(t, err)

	defs := readCSV(t, filepath.Join(dir, "role_definitions.csv"))
	require.Len(t, defs, 2)
	assert.Equal(t, definitionHeaders, defs[0])
	assert.Equal(t, "Reader", defs[1][0])
	assert.Equal(t, "false", defs[1][2])

	rows := readCSV(t, filepath.Join(dir, "role_assignments.csv"))
	require.Len(t, rows, 4)
	assert.Equal(t, assignmentHeaders, rows[0])
	assert.Equal(t, "false", rows[1][11])
	assert.Equal(t, "true", rows[2][11])

	assert.Equal(t, 1, index.RowCounts["role_definitions_csv"])
	assert.Equal(t, 3, index.RowCounts["role_assignments_csv"])
}

func TestEmitWritesHeaderOnlyCSVForEmptyCollections(t *testing.T) {
	dir := t.TempDir()
	emitter := NewEmitter(nil, Options{OutputDir: dir})

	index, err := emitter.Emit(nil, nil, nil)
	require.NoError(t, err)

	rows := readCSV(t, filepath.Join(dir, "role_assignments.csv"))
	require.Len(t, rows, 1)
	assert.Equal(t, assignmentHeaders, rows[0])
	assert.Equal(t, 0, index.RowCounts["role_assignments_csv"])
	assert.Empty(t, index.PerSubscription)
}

func TestEmitPartitionsPerSubscription(t *testing.T) {
	dir := t.TempDir()
	emitter := NewEmitter(nil, Options{OutputDir: dir})

	index, err := emitter.Emit(nil, sampleAssignments(), nil)
	require.NoError(t, err)

	subA := readCSV(t, filepath.Join(dir, "role_assignments_sub-a.csv"))
	assert.Len(t, subA, 3)
	subB := readCSV(t, filepath.Join(dir, "role_assignments_sub-b.csv"))
	assert.Len(t, subB, 2)

	assert.Equal(t, map[string]int{"sub-a": 2, "sub-b": 1}, index.PerSubscription)
}

func TestMarkdownCapsRowsAndReportsTotals(t *testing.T) {
	dir := t.TempDir()
	emitter := NewEmitter(nil, Options{OutputDir: dir, MarkdownTop: 2})

	assignments := sampleAssignments()
	_, err := emitter.Emit(nil, assignments, nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "role_assignments.md"))
	require.NoError(t, err)
	content := string(raw)

	assert.Contains(t, content, "*Showing first 2 rows of 3 total*")
	// Header, divider, and the capped rows only.
	tableLines := 0
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "|") {
			tableLines++
		}
	}
	assert.Equal(t, 4, tableLines)
	assert.NotContains(t, content, "ra-3")
}

func TestMarkdownFooterWhenFewerRowsThanCap(t *testing.T) {
	dir := t.TempDir()
	emitter := NewEmitter(nil, Options{OutputDir: dir, MarkdownTop: 200})

	_, err := emitter.Emit(nil, sampleAssignments(), nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "role_assignments.md"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "*Showing first 3 rows of 3 total*")
}

func TestJSONArtifactsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	emitter := NewEmitter(nil, Options{OutputDir: dir, JSON: true})

	_, err := emitter.Emit(sampleDefinitions(), sampleAssignments(), nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "role_assignments.json"))
	require.NoError(t, err)
	var decoded []types.RoleAssignment
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 3)
	assert.True(t, decoded[1].Inherited)
	assert.Equal(t, "sub-b", decoded[2].SubscriptionID)
}

func TestGroupMembersArtifactOnlyWhenPresent(t *testing.T) {
	dir := t.TempDir()
	emitter := NewEmitter(nil, Options{OutputDir: dir})

	members := []types.GroupMember{
		{GroupID: "g1", MemberPrincipalID: "m1", MemberType: "user", MemberDisplayName: "Alice", MemberUPN: "alice@example.com"},
	}
	index, err := emitter.Emit(nil, nil, members)
	require.NoError(t, err)

	rows := readCSV(t, filepath.Join(dir, "group_members.csv"))
	require.Len(t, rows, 2)
	assert.Equal(t, memberHeaders, rows[0])
	assert.Equal(t, "g1", rows[1][0])
	assert.Equal(t, 1, index.RowCounts["group_members_csv"])

	empty := t.TempDir()
	emitter = NewEmitter(nil, Options{OutputDir: empty})
	_, err = emitter.Emit(nil, nil, nil)
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(empty, "group_members.csv"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestIndexListsEveryArtifact(t *testing.T) {
	dir := t.TempDir()
	emitter := NewEmitter(nil, Options{OutputDir: dir, MarkdownTop: 10, JSON: true})

	_, err := emitter.Emit(sampleDefinitions(), sampleAssignments(), nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "index.json"))
	require.NoError(t, err)
	var index Index
	require.NoError(t, json.Unmarshal(raw, &index))

	for key, path := range index.Artifacts {
		_, statErr := os.Stat(path)
		assert.NoError(t, statErr, "artifact %s listed in index must exist", key)
	}
	assert.Contains(t, index.Artifacts, "role_assignments_md")
	assert.Contains(t, index.Artifacts, "role_definitions_json")
	assert.Contains(t, index.Artifacts, "role_assignments_sub-a_csv")
}

func TestRedactedValuesFlowThroughAllFormats(t *testing.T) {
	dir := t.TempDir()
	emitter := NewEmitter(nil, Options{OutputDir: dir, MarkdownTop: 10, JSON: true})

	assignments := sampleAssignments()
	for i := range assignments {
		assignments[i].PrincipalDisplayName = types.RedactedValue
		assignments[i].PrincipalUPNOrAppID = types.RedactedValue
	}
	_, err := emitter.Emit(nil, assignments, nil)
	require.NoError(t, err)

	rows := readCSV(t, filepath.Join(dir, "role_assignments.csv"))
	for _, row := range rows[1:] {
		assert.Equal(t, types.RedactedValue, row[9])
		assert.Equal(t, types.RedactedValue, row[10])
	}

	md, err := os.ReadFile(filepath.Join(dir, "role_assignments.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), types.RedactedValue)

	js, err := os.ReadFile(filepath.Join(dir, "role_assignments.json"))
	require.NoError(t, err)
	var decoded []types.RoleAssignment
	require.NoError(t, json.Unmarshal(js, &decoded))
	for _, a := range decoded {
		assert.Equal(t, types.RedactedValue, a.PrincipalDisplayName)
	}
}

func TestDefaultOutputDirIsTimestamped(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	assert.Equal(t, filepath.Join("output", "azure_rbac_20250314_092653"), DefaultOutputDir(now))
}

func TestMemberCountColumnBlankWhenZero(t *testing.T) {
	row := assignmentRow(types.RoleAssignment{AssignmentID: "ra-1"})
	assert.Equal(t, "", row[15])

	row = assignmentRow(types.RoleAssignment{AssignmentID: "ra-1", MemberCount: 7})
	assert.Equal(t, "7", row[15])
}

func TestArtifactFailureDoesNotBlockOthers(t *testing.T) {
	dir := t.TempDir()
	// Pre-create a directory where a CSV file should go; os.Create fails on it.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "role_definitions.csv"), 0o755))
	emitter := NewEmitter(nil, Options{OutputDir: dir})

	index, err := emitter.Emit(sampleDefinitions(), sampleAssignments(), nil)
	require.Error(t, err)

	rows := readCSV(t, filepath.Join(dir, "role_assignments.csv"))
	assert.Len(t, rows, 4)
	assert.NotContains(t, index.Artifacts, "role_definitions_csv")
	assert.Contains(t, index.Artifacts, "role_assignments_csv")
}

func TestXLSXArtifactsWritten(t *testing.T) {
	dir := t.TempDir()
	emitter := NewEmitter(nil, Options{OutputDir: dir, XLSX: true})

	index, err := emitter.Emit(nil, sampleAssignments(), nil)
	require.NoError(t, err)

	for _, name := range []string{"role_assignments.xlsx", "role_assignments_sub-a.xlsx", "role_assignments_sub-b.xlsx"} {
		info, statErr := os.Stat(filepath.Join(dir, name))
		require.NoError(t, statErr, name)
		assert.Positive(t, info.Size())
	}
	assert.Equal(t, 3, index.RowCounts["role_assignments_xlsx"])
	assert.Equal(t, 2, index.PerSubscription["sub-a"])
}
