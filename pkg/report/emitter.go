// Package report serializes the aggregated collections to CSV, XLSX,
// Markdown, and JSON artifacts, partitioned overall and per subscription.
package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/veilsec/azrbac/pkg/types"
)

// utf8BOM makes spreadsheet tools detect CSV encoding correctly.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Options shapes the emitted artifact set.
type Options struct {
	OutputDir string
	// MarkdownTop caps Markdown rows; zero disables the Markdown artifact.
	MarkdownTop int
	JSON        bool
	XLSX        bool
}

// Index is the machine-readable cross-reference of all produced artifacts,
// written as index.json in the output directory.
type Index struct {
	Artifacts       map[string]string `json:"artifacts"`
	RowCounts       map[string]int    `json:"row_counts"`
	PerSubscription map[string]int    `json:"per_subscription"`
}

// Emitter writes the output directory for one run.
type Emitter struct {
	logger *slog.Logger
	opts   Options
}

func NewEmitter(logger *slog.Logger, opts Options) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{logger: logger, opts: opts}
}

// DefaultOutputDir returns the timestamped directory used when no explicit
// output path was given.
func DefaultOutputDir(now time.Time) string {
	return filepath.Join("output", "azure_rbac_"+now.UTC().Format("20060102_150405"))
}

var definitionHeaders = []string{
	"roleDefinitionName", "roleDefinitionId", "isCustom",
	"description", "permissionsCount", "assignableScopes",
}

var assignmentHeaders = []string{
	"scope", "scopeType", "subscriptionId", "resourceGroup",
	"roleDefinitionId", "roleDefinitionName", "assignmentId",
	"principalId", "principalType", "principalDisplayName",
	"principalUPNOrAppId", "inherited", "condition", "conditionVersion",
	"createdOn", "memberCount", "memberPrincipalId", "memberType",
	"memberDisplayName", "memberUPN",
}

var memberHeaders = []string{
	"groupId", "memberPrincipalId", "memberType", "memberDisplayName", "memberUPN",
}

func definitionRow(d types.RoleDefinition) []string {
	return []string{
		d.RoleDefinitionName, d.RoleDefinitionID, strconv.FormatBool(d.IsCustom),
		d.Description, strconv.Itoa(d.PermissionsCount), d.AssignableScopes,
	}
}

func assignmentRow(a types.RoleAssignment) []string {
	memberCount := ""
	if a.MemberCount > 0 {
		memberCount = strconv.Itoa(a.MemberCount)
	}
	return []string{
		a.Scope, string(a.ScopeType), a.SubscriptionID, a.ResourceGroup,
		a.RoleDefinitionID, a.RoleDefinitionName, a.AssignmentID,
		a.PrincipalID, string(a.PrincipalType), a.PrincipalDisplayName,
		a.PrincipalUPNOrAppID, strconv.FormatBool(a.Inherited), a.Condition,
		a.ConditionVersion, a.CreatedOn, memberCount, a.MemberPrincipalID,
		a.MemberType, a.MemberDisplayName, a.MemberUPN,
	}
}

func memberRow(m types.GroupMember) []string {
	return []string{m.GroupID, m.MemberPrincipalID, m.MemberType, m.MemberDisplayName, m.MemberUPN}
}

// Emit writes every requested artifact and the index document. Individual
// artifact failures are collected; the remaining artifacts are still written.
func (e *Emitter) Emit(definitions []types.RoleDefinition, assignments []types.RoleAssignment, members []types.GroupMember) (*Index, error) {
	if err := os.MkdirAll(e.opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	index := &Index{
		Artifacts:       make(map[string]string),
		RowCounts:       make(map[string]int),
		PerSubscription: make(map[string]int),
	}
	var errs []error
	record := func(key, path string, rows int, err error) {
		if err != nil {
			e.logger.Error("failed to write artifact", "path", path, "error", err)
			errs = append(errs, err)
			return
		}
		index.Artifacts[key] = path
		index.RowCounts[key] = rows
		e.logger.Info("wrote artifact", "path", path, "rows", rows)
	}

	defRows := make([][]string, 0, len(definitions))
	for _, d := range definitions {
		defRows = append(defRows, definitionRow(d))
	}
	assignmentRows := make([][]string, 0, len(assignments))
	for _, a := range assignments {
		assignmentRows = append(assignmentRows, assignmentRow(a))
	}

	path := e.path("role_definitions.csv")
	record("role_definitions_csv", path, len(defRows), writeCSV(path, definitionHeaders, defRows))

	path = e.path("role_assignments.csv")
	record("role_assignments_csv", path, len(assignmentRows), writeCSV(path, assignmentHeaders, assignmentRows))

	if e.opts.XLSX {
		path = e.path("role_assignments.xlsx")
		record("role_assignments_xlsx", path, len(assignmentRows), writeXLSX(path, assignmentHeaders, assignmentRows))
	}

	if e.opts.MarkdownTop > 0 {
		path = e.path("role_assignments.md")
		shown := min(len(assignmentRows), e.opts.MarkdownTop)
		record("role_assignments_md", path, shown,
			writeMarkdown(path, assignmentHeaders, assignmentRows, e.opts.MarkdownTop))
	}

	if e.opts.JSON {
		path = e.path("role_definitions.json")
		record("role_definitions_json", path, len(definitions), writeJSON(path, definitions))
		path = e.path("role_assignments.json")
		record("role_assignments_json", path, len(assignments), writeJSON(path, assignments))
	}

	if len(members) > 0 {
		memberRows := make([][]string, 0, len(members))
		for _, m := range members {
			memberRows = append(memberRows, memberRow(m))
		}
		path = e.path("group_members.csv")
		record("group_members_csv", path, len(memberRows), writeCSV(path, memberHeaders, memberRows))
	}

	e.emitPerSubscription(assignments, index, record)

	indexPath := e.path("index.json")
	if err := writeJSON(indexPath, index); err != nil {
		errs = append(errs, err)
	} else {
		e.logger.Info("wrote index", "path", indexPath)
	}

	return index, errors.Join(errs...)
}

// emitPerSubscription writes one CSV (and optional XLSX) partition per
// subscription ID observed in the assignment set.
func (e *Emitter) emitPerSubscription(assignments []types.RoleAssignment, index *Index, record func(string, string, int, error)) {
	bySub := make(map[string][][]string)
	for _, a := range assignments {
		if a.SubscriptionID == "" {
			continue
		}
		bySub[a.SubscriptionID] = append(bySub[a.SubscriptionID], assignmentRow(a))
	}

	ids := make([]string, 0, len(bySub))
	for id := range bySub {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rows := bySub[id]
		index.PerSubscription[id] = len(rows)

		path := e.path("role_assignments_" + id + ".csv")
		record("role_assignments_"+id+"_csv", path, len(rows), writeCSV(path, assignmentHeaders, rows))
		if e.opts.XLSX {
			path = e.path("role_assignments_" + id + ".xlsx")
			record("role_assignments_"+id+"_xlsx", path, len(rows), writeXLSX(path, assignmentHeaders, rows))
		}
	}
}

func (e *Emitter) path(name string) string {
	return filepath.Join(e.opts.OutputDir, name)
}

func writeCSV(path string, headers []string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	if _, err := file.Write(utf8BOM); err != nil {
		return fmt.Errorf("failed to write BOM to %s: %w", path, err)
	}
	writer := csv.NewWriter(file)
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("failed to write header to %s: %w", path, err)
	}
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write rows to %s: %w", path, err)
	}
	writer.Flush()
	return writer.Error()
}

func writeXLSX(path string, headers []string, rows [][]string) error {
	workbook := excelize.NewFile()
	defer workbook.Close()

	const sheet = "Data"
	if err := workbook.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to name sheet in %s: %w", path, err)
	}

	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := workbook.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header to %s: %w", path, err)
	}
	for i, row := range rows {
		cells := make([]any, len(row))
		for j, cell := range row {
			cells[j] = cell
		}
		anchor, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := workbook.SetSheetRow(sheet, anchor, &cells); err != nil {
			return fmt.Errorf("failed to write row to %s: %w", path, err)
		}
	}
	if err := workbook.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func writeMarkdown(path string, headers []string, rows [][]string, top int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	shown := rows
	if len(shown) > top {
		shown = shown[:top]
	}

	write := func(cells []string) error {
		line := "|"
		for _, cell := range cells {
			line += " " + cell + " |"
		}
		_, err := file.WriteString(line + "\n")
		return err
	}

	if err := write(headers); err != nil {
		return err
	}
	divider := make([]string, len(headers))
	for i := range divider {
		divider[i] = "---"
	}
	if err := write(divider); err != nil {
		return err
	}
	for _, row := range shown {
		if err := write(row); err != nil {
			return err
		}
	}

	_, err = fmt.Fprintf(file, "\n*Showing first %d rows of %d total*\n", len(shown), len(rows))
	return err
}

func writeJSON(path string, data any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}
