package variables

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"certgen/internal/dateformat"
	"certgen/internal/numbering"
)

// DefaultValidYears 是未指定到期日时的有效年数。
const DefaultValidYears = 3

// DateFormatter 把日期字符串按 pattern 与 locale 格式化。
type DateFormatter interface {
	Format(value, pattern, locale string) (string, error)
}

// CertificateData 是单张证书的输入字段，各字段都可留空由 Deriver 补齐。
type CertificateData struct {
	Name          string
	CertificateNo string
	Description   string
	IssueDate     string
	ExpiredDate   string
}

// Derived 是补齐后的字段：原始日期用于入库，AutoFields 用于绘制。
type Derived struct {
	CertificateNo string
	IssueDate     time.Time
	ExpiredDate   time.Time
	Auto          AutoFields
}

// Deriver 计算空白的 issue_date（今天）、certificate_no（编号器，失败时回退到
// 时间戳编号）和 expired_date（签发日 + 3 年）。
type Deriver struct {
	Numbers    numbering.Generator
	Fallback   numbering.Generator
	Dates      DateFormatter
	Pattern    string
	Locale     string
	ValidYears int
	Now        func() time.Time
	Logger     *slog.Logger
}

func (d Deriver) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deriver) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Derive 不返回错误：任何一步失败都退化为可用的值。
func (d Deriver) Derive(ctx context.Context, in CertificateData) Derived {
	now := d.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	issue := today
	issueDisplay := ""
	if raw := strings.TrimSpace(in.IssueDate); raw != "" {
		if t, err := dateformat.Parse(raw); err == nil {
			issue = t
		} else {
			issueDisplay = raw
		}
	}
	if issueDisplay == "" {
		issueDisplay = d.format(issue)
	}

	expired := issue.AddDate(d.validYears(), 0, 0)
	expiredDisplay := ""
	if raw := strings.TrimSpace(in.ExpiredDate); raw != "" {
		if t, err := dateformat.Parse(raw); err == nil {
			expired = t
		} else {
			expiredDisplay = raw
		}
	}
	if expiredDisplay == "" {
		expiredDisplay = d.format(expired)
	}

	no := strings.TrimSpace(in.CertificateNo)
	if no == "" {
		no = d.number(ctx, issue)
	}

	return Derived{
		CertificateNo: no,
		IssueDate:     issue,
		ExpiredDate:   expired,
		Auto: AutoFields{
			Name:          strings.TrimSpace(in.Name),
			CertificateNo: no,
			Description:   in.Description,
			IssueDate:     issueDisplay,
			ExpiredDate:   expiredDisplay,
		},
	}
}

func (d Deriver) validYears() int {
	if d.ValidYears > 0 {
		return d.ValidYears
	}
	return DefaultValidYears
}

func (d Deriver) format(t time.Time) string {
	iso := t.Format(dateformat.ISODate)
	if d.Dates == nil {
		return dateformat.FormatTime(t, d.Pattern, d.Locale)
	}
	out, err := d.Dates.Format(iso, d.Pattern, d.Locale)
	if err != nil {
		d.logger().Warn("date format failed", slog.String("date", iso), slog.Any("error", err))
		return iso
	}
	return out
}

func (d Deriver) number(ctx context.Context, issue time.Time) string {
	if d.Numbers != nil {
		no, err := d.Numbers.Generate(ctx, issue)
		if err == nil && no != "" {
			return no
		}
		d.logger().Warn("certificate number generator failed, using fallback", slog.Any("error", err))
	}
	if d.Fallback != nil {
		if no, err := d.Fallback.Generate(ctx, issue); err == nil && no != "" {
			return no
		}
	}
	return fmt.Sprintf("%s-%d", numbering.DefaultPrefix, d.now().UnixMilli())
}
