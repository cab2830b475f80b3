package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"certgen/internal/database"
	"certgen/internal/spreadsheet"
	"certgen/internal/variables"
)

// 数据来源类型，写入 GenerationJob.Source。
const (
	SourceMembers     = "members"
	SourceSpreadsheet = "spreadsheet"
)

// Recipient 是一张证书的全部输入。
type Recipient struct {
	Index       int
	MemberID    *uint
	Certificate variables.CertificateData
	// Row 为表格行的显式取值（最高优先级），Score 为成绩数据，Extra 为通用证书数据。
	Row   map[string]string
	Score map[string]string
	Extra map[string]string
}

// Label 用于日志与失败列表。
func (r Recipient) Label() string {
	if name := strings.TrimSpace(r.Certificate.Name); name != "" {
		return name
	}
	return fmt.Sprintf("#%d", r.Index+1)
}

// Sources 组装解析器的数据来源。
func (r Recipient) Sources(auto variables.AutoFields) variables.Sources {
	return variables.Sources{Row: r.Row, Score: r.Score, Certificate: r.Extra, Auto: auto}
}

// Defaults 是整批共用的证书字段，单个接收人的非空值优先。
type Defaults struct {
	Description string            `json:"description,omitempty"`
	IssueDate   string            `json:"issue_date,omitempty"`
	ExpiredDate string            `json:"expired_date,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

func (d Defaults) certificate(name string) variables.CertificateData {
	return variables.CertificateData{
		Name:        name,
		Description: d.Description,
		IssueDate:   d.IssueDate,
		ExpiredDate: d.ExpiredDate,
	}
}

func (d Defaults) extra() map[string]string {
	out := make(map[string]string, len(d.Extra))
	for k, v := range d.Extra {
		out[k] = v
	}
	return out
}

// Source 产出一批接收人。
type Source interface {
	Kind() string
	Recipients(ctx context.Context) ([]Recipient, error)
}

// MemberLister 读取已保存的接收人。
type MemberLister interface {
	List(ctx context.Context, ids []uint) ([]database.Member, error)
}

// MemberSource 以数据库中的 Member 为来源；IDs 为空表示全部。
type MemberSource struct {
	Members  MemberLister
	IDs      []uint
	Defaults Defaults
}

func (s MemberSource) Kind() string { return SourceMembers }

func (s MemberSource) Recipients(ctx context.Context) ([]Recipient, error) {
	members, err := s.Members.List(ctx, s.IDs)
	if err != nil {
		return nil, err
	}
	out := make([]Recipient, 0, len(members))
	for i, m := range members {
		id := m.ID
		extra := s.Defaults.extra()
		for k, v := range map[string]string{
			spreadsheet.ColumnEmail:        m.Email,
			spreadsheet.ColumnOrganization: m.Organization,
			spreadsheet.ColumnPhone:        m.Phone,
			spreadsheet.ColumnJob:          m.Job,
			spreadsheet.ColumnAddress:      m.Address,
			spreadsheet.ColumnCity:         m.City,
		} {
			if v != "" {
				extra[k] = v
			}
		}
		out = append(out, Recipient{
			Index:       i,
			MemberID:    &id,
			Certificate: s.Defaults.certificate(m.Name),
			Score:       stringMap(m.ScoreData),
			Extra:       extra,
		})
	}
	return out, nil
}

// RowSource 以解析后的表格行为来源。标准列直接填入证书字段，其余列并入通用证书数据。
type RowSource struct {
	Rows     []spreadsheet.Row
	Defaults Defaults
}

func (s RowSource) Kind() string { return SourceSpreadsheet }

func (s RowSource) Recipients(context.Context) ([]Recipient, error) {
	out := make([]Recipient, 0, len(s.Rows))
	for i, row := range s.Rows {
		cert := row.Certificate()
		base := s.Defaults.certificate(cert.Name)
		if cert.Description == "" {
			cert.Description = base.Description
		}
		if cert.IssueDate == "" {
			cert.IssueDate = base.IssueDate
		}
		if cert.ExpiredDate == "" {
			cert.ExpiredDate = base.ExpiredDate
		}
		extra := s.Defaults.extra()
		for k, v := range row.AdHoc() {
			extra[k] = v
		}
		out = append(out, Recipient{
			Index:       i,
			Certificate: cert,
			Row:         row.Values,
			Extra:       extra,
		})
	}
	return out, nil
}

// stringMap 把 JSON 中的任意值转换为字符串。
func stringMap(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = cast.ToString(v)
	}
	return out
}
