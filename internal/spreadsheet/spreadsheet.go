// Package spreadsheet 把上传的 xlsx/csv 名单解析为按表头取值的行。
package spreadsheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"
	"github.com/xuri/excelize/v2"

	"certgen/internal/database"
	"certgen/internal/variables"
)

// 标准列直接映射到证书字段或接收人信息，不进入临时数据。
const (
	ColumnName          = "name"
	ColumnCertificateNo = "certificate_no"
	ColumnIssueDate     = "issue_date"
	ColumnExpiredDate   = "expired_date"
	ColumnDescription   = "description"
	ColumnEmail         = "email"
	ColumnOrganization  = "organization"
	ColumnPhone         = "phone"
	ColumnJob           = "job"
	ColumnAddress       = "address"
	ColumnCity          = "city"
)

var standardColumns = map[string]bool{
	ColumnName: true, ColumnCertificateNo: true, ColumnIssueDate: true, ColumnExpiredDate: true,
	ColumnDescription: true, ColumnEmail: true, ColumnOrganization: true, ColumnPhone: true,
	ColumnJob: true, ColumnAddress: true, ColumnCity: true,
}

// IsStandardColumn reports whether header is consumed directly.
func IsStandardColumn(header string) bool {
	return standardColumns[header]
}

var (
	ErrNoWorksheet = errors.New("no worksheet found")
	ErrEmpty       = errors.New("spreadsheet has no data rows")
)

// Row 是一行数据，键为规范化后的表头。Line 为原表格中的行号（表头为第 1 行）。
type Row struct {
	Line   int
	Values map[string]string
}

// Get 返回去掉首尾空白的单元格值。
func (r Row) Get(column string) string {
	return strings.TrimSpace(r.Values[column])
}

// Certificate 取出证书字段。
func (r Row) Certificate() variables.CertificateData {
	return variables.CertificateData{
		Name:          r.Get(ColumnName),
		CertificateNo: r.Get(ColumnCertificateNo),
		Description:   r.Get(ColumnDescription),
		IssueDate:     r.Get(ColumnIssueDate),
		ExpiredDate:   r.Get(ColumnExpiredDate),
	}
}

// AdHoc 返回非标准列，作为通用证书数据的补充。
func (r Row) AdHoc() map[string]string {
	out := map[string]string{}
	for k, v := range r.Values {
		if !standardColumns[k] {
			out[k] = v
		}
	}
	return out
}

// Member 把一行转换为接收人记录，非标准列写入 ScoreData。
func (r Row) Member() database.Member {
	m := database.Member{
		Name:         r.Get(ColumnName),
		Email:        r.Get(ColumnEmail),
		Organization: r.Get(ColumnOrganization),
		Phone:        r.Get(ColumnPhone),
		Job:          r.Get(ColumnJob),
		Address:      r.Get(ColumnAddress),
		City:         r.Get(ColumnCity),
	}
	if extra := r.AdHoc(); len(extra) > 0 {
		m.ScoreData = make(map[string]any, len(extra))
		for k, v := range extra {
			m.ScoreData[k] = v
		}
	}
	return m
}

// Members 转换全部行，跳过没有姓名的行并返回其行号。
func Members(rows []Row) (members []database.Member, skipped []int) {
	for _, row := range rows {
		if row.Get(ColumnName) == "" {
			skipped = append(skipped, row.Line)
			continue
		}
		members = append(members, row.Member())
	}
	return members, skipped
}

// NormalizeHeader 去空白、转小写、空白与连字符替换为下划线。
func NormalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.Join(strings.Fields(h), "_")
	return strings.ReplaceAll(h, "-", "_")
}

// Parse 读取第一个工作表。filename 的扩展名为 .csv 时按 CSV 解析，否则按 xlsx。
func Parse(r io.Reader, filename string) ([]Row, error) {
	var (
		records [][]string
		err     error
	)
	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		records, err = readCSV(r)
	} else {
		records, err = readXLSX(r)
	}
	if err != nil {
		return nil, err
	}
	return buildRows(records)
}

func readXLSX(r io.Reader) ([][]string, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = file.Close() }()

	sheet := file.GetSheetName(0)
	if sheet == "" {
		return nil, ErrNoWorksheet
	}
	rows, err := file.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return records, nil
}

func buildRows(records [][]string) ([]Row, error) {
	if len(records) == 0 {
		return nil, ErrEmpty
	}
	headers := make([]string, len(records[0]))
	seen := map[string]bool{}
	for i, h := range records[0] {
		key := NormalizeHeader(h)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		headers[i] = key
	}

	var rows []Row
	for i, record := range records[1:] {
		values := map[string]string{}
		blank := true
		for col, raw := range record {
			if col >= len(headers) || headers[col] == "" {
				continue
			}
			v := strings.TrimSpace(raw)
			if v != "" {
				blank = false
			}
			if headers[col] == ColumnIssueDate || headers[col] == ColumnExpiredDate {
				v = normalizeDate(v)
			}
			values[headers[col]] = v
		}
		if blank {
			continue
		}
		rows = append(rows, Row{Line: i + 2, Values: values})
	}
	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	return rows, nil
}

// normalizeDate 把 Excel 日期序列号转换为 2006-01-02，其他值原样返回。
func normalizeDate(v string) string {
	serial, err := cast.ToFloat64E(v)
	// 只接受 1954..2118 之间的序列号，避免把纯年份当作日期。
	if err != nil || serial < 20000 || serial > 80000 {
		return v
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return v
	}
	return t.Format("2006-01-02")
}
