package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"github.com/mmeshcher/tourbooking-system/internal/model"
)

var (
	depositTmpl = template.Must(template.New("deposit").Parse(`<h2>Xin chào {{.FullName}},</h2>
<p>Chúng tôi đã nhận tiền cọc cho đơn đặt tour <b>{{.Code}}</b>.</p>
<ul>
  <li>Đã thanh toán: {{.Paid}} VND</li>
  <li>Tổng giá trị: {{.Total}} VND</li>
  <li>Còn lại: {{.Remaining}} VND</li>
</ul>
<p>Cảm ơn bạn đã đặt tour!</p>`))

	fullyPaidTmpl = template.Must(template.New("paid").Parse(`<h2>Xin chào {{.FullName}},</h2>
<p>Đơn đặt tour <b>{{.Code}}</b> đã được thanh toán đủ <b>{{.Total}} VND</b> và đã được xác nhận.</p>
<p>Hẹn gặp bạn trong chuyến đi!</p>`))

	tourConfirmedTmpl = template.Must(template.New("tour").Parse(`<h2>Xin chào {{.FullName}},</h2>
<p>Tour <b>{{.TourTitle}}</b> đã đủ số khách tối thiểu và chính thức được xác nhận khởi hành.</p>
<p>Mã đặt tour của bạn: <b>{{.Code}}</b>. Số tiền còn lại: {{.Remaining}} VND.</p>`))
)

type mailData struct {
	FullName  string
	Code      string
	TourTitle string
	Paid      string
	Total     string
	Remaining string
}

func newMailData(b *model.Booking) mailData {
	return mailData{
		FullName:  b.FullName,
		Code:      b.Code,
		Paid:      formatVND(b.PaidAmount),
		Total:     formatVND(b.TotalPrice),
		Remaining: formatVND(b.Remaining()),
	}
}

func render(t *template.Template, data mailData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func depositSubject(code string) string   { return "Đã nhận tiền cọc - " + code }
func fullyPaidSubject(code string) string { return "Xác nhận thanh toán đủ - " + code }
func tourConfirmedSubject(title string) string {
	return "Tour đã được xác nhận - " + title
}

// formatVND форматирует сумму с разделителем разрядов ".", как принято во Вьетнаме.
func formatVND(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	s := strconv.FormatInt(amount, 10)
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	return sign + strings.Join(parts, ".")
}
