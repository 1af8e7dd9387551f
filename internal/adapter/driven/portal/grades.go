package portal

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/ericfisherdev/gradewatch/internal/domain/model"
	"github.com/ericfisherdev/gradewatch/internal/domain/port/driven"
)

// FetchUserData loads the account profile and the grade records of every
// configured term. A failure on any term fails the whole fetch so a partial
// record list never reaches the diff.
func (c *Client) FetchUserData(ctx context.Context, token string) (*model.UserData, error) {
	profile, err := c.fetchProfile(ctx, token)
	if err != nil {
		return nil, err
	}

	data := &model.UserData{Profile: *profile}
	for _, term := range c.cfg.Terms {
		records, err := c.fetchTerm(ctx, token, term)
		if err != nil {
			return nil, fmt.Errorf("term %s: %w", term, err)
		}
		data.Records = append(data.Records, records...)
	}
	return data, nil
}

func (c *Client) fetchProfile(ctx context.Context, token string) (*model.Profile, error) {
	body, err := c.post(ctx, c.cfg.Endpoint, "user_info", graphqlRequest{
		OperationName: "GetUserInfo",
		Query:         userInfoQuery,
	}, token)
	if err != nil {
		return nil, err
	}

	var resp userResponse
	if err := decode(body, &resp); err != nil {
		return nil, err
	}
	if resp.Data.GetGUI == nil || resp.Data.GetGUI.User == nil {
		if len(resp.Errors) > 0 {
			return nil, fmt.Errorf("%w: %s", driven.ErrMalformedData, joinErrors(resp.Errors))
		}
		return nil, fmt.Errorf("%w: no user in response", driven.ErrMalformedData)
	}

	u := resp.Data.GetGUI.User
	profile := &model.Profile{
		FullName:  strings.TrimSpace(u.FullName),
		FirstName: strings.TrimSpace(u.FirstName),
		LastName:  strings.TrimSpace(u.LastName),
		Email:     strings.TrimSpace(u.Email),
	}
	if u.ID != nil {
		profile.PortalUserID = fmt.Sprint(u.ID)
	}
	if profile.FullName == "" {
		profile.FullName = strings.TrimSpace(profile.FirstName + " " + profile.LastName)
	}
	return profile, nil
}

func (c *Client) fetchTerm(ctx context.Context, token, term string) ([]model.Record, error) {
	body, err := c.post(ctx, c.cfg.Endpoint, "grades", graphqlRequest{
		OperationName: "getPage",
		Query:         gradesQuery,
		Variables: map[string]any{
			"name": gradesPageName,
			"params": []map[string]string{
				{"name": "t_grade_id", "value": term},
			},
		},
	}, token)
	if err != nil {
		return nil, err
	}

	var resp pageResponse
	if err := decode(body, &resp); err != nil {
		return nil, err
	}
	if resp.Data.GetPage == nil {
		if len(resp.Errors) > 0 {
			return nil, fmt.Errorf("%w: %s", driven.ErrMalformedData, joinErrors(resp.Errors))
		}
		return nil, fmt.Errorf("%w: no page in response", driven.ErrMalformedData)
	}

	var records []model.Record
	for _, panel := range resp.Data.GetPage.Panels {
		for _, block := range panel.Blocks {
			if strings.TrimSpace(block.Body) == "" {
				continue
			}
			parsed, err := ParseGradeTables(block.Body)
			if err != nil {
				return nil, err
			}
			records = append(records, parsed...)
		}
	}
	return records, nil
}

// column identifies a grade table column.
type column int

const (
	colUnknown column = iota
	colName
	colCode
	colECTS
	colCoursework
	colFinalExam
	colTotal
)

// positionalColumns is the layout assumed when headers cannot be mapped.
var positionalColumns = []column{colName, colCode, colECTS, colCoursework, colFinalExam, colTotal}

// summaryWords and summaryPhrases identify term summary rows mixed into
// grade tables. Latin markers match whole words only.
var (
	summaryWords   = []string{"term", "semester", "quarter"}
	summaryPhrases = []string{"الفصل", "الدورة"}
)

// ParseGradeTables extracts grade records from every course table in an
// HTML fragment. Tables without a course column header are ignored, as are
// rows with fewer than two cells, rows without a course code, and term
// summary rows.
func ParseGradeTables(fragment string) ([]model.Record, error) {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing grade html: %w", driven.ErrMalformedData, err)
	}

	var records []model.Record
	for _, table := range findAll(doc, atom.Table) {
		headers := tableHeaders(table)
		if !isCourseTable(headers) {
			continue
		}
		layout := mapColumns(headers)

		for _, row := range findAll(table, atom.Tr) {
			cells := findAll(row, atom.Td)
			if len(cells) < 2 {
				continue
			}
			rec := buildRecord(layout, cells)
			if strings.TrimSpace(rec.Code) == "" || isSummaryRow(rec.Name) {
				continue
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

func tableHeaders(table *html.Node) []string {
	var headers []string
	for _, th := range findAll(table, atom.Th) {
		headers = append(headers, textContent(th))
	}
	return headers
}

func isCourseTable(headers []string) bool {
	for _, h := range headers {
		lower := strings.ToLower(h)
		if strings.Contains(h, "المقرر") || strings.Contains(lower, "course") {
			return true
		}
	}
	return false
}

// mapColumns maps header text to record fields. When neither the name nor
// the code column can be identified the positional layout is used.
func mapColumns(headers []string) []column {
	layout := make([]column, len(headers))
	var haveName, haveCode bool
	for i, h := range headers {
		layout[i] = classifyHeader(h)
		haveName = haveName || layout[i] == colName
		haveCode = haveCode || layout[i] == colCode
	}
	if !haveName || !haveCode {
		return positionalColumns
	}
	return layout
}

func classifyHeader(h string) column {
	lower := strings.ToLower(h)
	switch {
	case strings.Contains(h, "كود") || strings.Contains(lower, "code"):
		return colCode
	case strings.Contains(h, "أعمال") || strings.Contains(lower, "coursework") || strings.Contains(lower, "activit"):
		return colCoursework
	case strings.Contains(h, "مقرر") || strings.Contains(lower, "course"):
		return colName
	case strings.Contains(h, "رصيد") || strings.Contains(lower, "ects") || strings.Contains(lower, "credit"):
		return colECTS
	case strings.Contains(h, "نظري") || strings.Contains(lower, "exam") || strings.Contains(lower, "theor"):
		return colFinalExam
	case strings.Contains(h, "الدرجة") || strings.Contains(lower, "total") || strings.Contains(lower, "grade"):
		return colTotal
	}
	return colUnknown
}

func buildRecord(layout []column, cells []*html.Node) model.Record {
	var rec model.Record
	for i, cell := range cells {
		if i >= len(layout) {
			break
		}
		value := textContent(cell)
		switch layout[i] {
		case colName:
			rec.Name = value
		case colCode:
			rec.Code = value
		case colECTS:
			rec.ECTS = value
		case colCoursework:
			rec.Coursework = value
		case colFinalExam:
			rec.FinalExam = value
		case colTotal:
			rec.Total = value
		}
	}
	return rec
}

func isSummaryRow(name string) bool {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if slices.Contains(summaryWords, w) {
			return true
		}
	}
	for _, phrase := range summaryPhrases {
		if strings.Contains(name, phrase) {
			return true
		}
	}
	return false
}

// findAll returns the descendants of n with the given tag in document order.
// Except when collecting tables, nested tables are not descended into, so a
// row or cell belongs to its nearest table.
func findAll(n *html.Node, tag atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type != html.ElementNode {
				continue
			}
			if child.DataAtom == tag {
				out = append(out, child)
			}
			if child.DataAtom == atom.Table && tag != atom.Table {
				continue
			}
			walk(child)
		}
	}
	walk(n)
	return out
}

// textContent returns the whitespace-collapsed text under n.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
			b.WriteByte(' ')
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
