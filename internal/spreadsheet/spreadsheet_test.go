package spreadsheet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{" Name ", "Issue Date", "Expired-Date", "Training Hours", "Email"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"Ayu Lestari", 45306, "2027-01-15", 16, "ayu@example.org"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"", "", "", "", ""}))
	require.NoError(t, f.SetSheetRow(sheet, "A4", &[]any{"Budi", "15/01/2024", "", 8, ""}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rows, err := Parse(buf, "members.xlsx")
	require.NoError(t, err)
	require.Len(t, rows, 2, "blank rows are skipped")

	first := rows[0]
	assert.Equal(t, 2, first.Line)
	assert.Equal(t, "Ayu Lestari", first.Get(ColumnName))
	assert.Equal(t, "2024-01-15", first.Get(ColumnIssueDate), "excel serial dates are converted")
	assert.Equal(t, "2027-01-15", first.Get(ColumnExpiredDate))
	assert.Equal(t, map[string]string{"training_hours": "16"}, first.AdHoc())

	cert := first.Certificate()
	assert.Equal(t, "Ayu Lestari", cert.Name)
	assert.Equal(t, "2024-01-15", cert.IssueDate)

	assert.Equal(t, 4, rows[1].Line)
	assert.Equal(t, "15/01/2024", rows[1].Get(ColumnIssueDate))
}

func TestParseCSV(t *testing.T) {
	data := "\xef\xbb\xbfname,certificate_no,Score Grade\nAyu,CERT-1,A\nBudi,,B\n"
	rows, err := Parse(strings.NewReader(data), "list.CSV")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "CERT-1", rows[0].Get(ColumnCertificateNo))
	assert.Equal(t, "B", rows[1].AdHoc()["score_grade"])
}

func TestMembers(t *testing.T) {
	rows := []Row{
		{Line: 2, Values: map[string]string{"name": "Ayu", "email": "ayu@example.org", "grade": "A"}},
		{Line: 3, Values: map[string]string{"name": " ", "email": "x@example.org"}},
		{Line: 4, Values: map[string]string{"name": "Budi", "city": "Bandung"}},
	}
	members, skipped := Members(rows)
	require.Len(t, members, 2)
	assert.Equal(t, []int{3}, skipped)
	assert.Equal(t, "ayu@example.org", members[0].Email)
	assert.Equal(t, "A", members[0].ScoreData["grade"])
	assert.Equal(t, "Bandung", members[1].City)
	assert.Nil(t, members[1].ScoreData)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(strings.NewReader("name,email\n"), "empty.csv")
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Parse(strings.NewReader("not a workbook"), "broken.xlsx")
	assert.Error(t, err)
}

func TestNormalizeHeader(t *testing.T) {
	tests := map[string]string{
		" Name ":           "name",
		"Issue  Date":      "issue_date",
		"certificate-no":   "certificate_no",
		"TRAINING_HOURS":   "training_hours",
		"":                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeHeader(in), in)
	}
}
