package fields

// Built-in keyword lists used for zero-network classification.
var (
	StaticKeywords = []string{
		"first_name", "last_name", "middle_name", "full_name", "given_name", "family_name",
		"surname", "email", "e_mail", "phone", "mobile", "telephone", "address",
		"street", "city", "state", "province", "zip", "zip_code", "postal_code",
		"country", "linkedin", "linked_in", "github", "website", "portfolio", "date_of_birth",
		"birthday", "pronouns",
	}

	SemiStaticKeywords = []string{
		"current_company", "current_employer", "current_title", "job_title",
		"years_of_experience", "years_experience", "experience", "salary",
		"salary_expectation", "desired_salary", "notice_period", "education",
		"degree", "university", "school", "graduation_year", "gpa", "skills",
		"languages", "work_authorization", "authorized_to_work", "visa",
		"sponsorship", "relocation", "relocate", "start_date", "availability",
		"resume", "cv",
	}

	DynamicKeywords = []string{
		"cover_letter", "why_interested", "why_do_you_want", "why_this_company",
		"why_us", "motivation", "additional_information", "anything_else",
		"tell_us", "describe", "about_you", "summary", "question", "comments",
		"message",
	}
)

// Matcher classifies labels against keyword lists without touching the network.
type Matcher struct {
	rules []rule
}

type rule struct {
	category Category
	tokens   []string
}

// NewMatcher builds a matcher over the built-in lists plus the provided extras.
// Extras are appended to the list of their category and never change priority:
// STATIC is tested first, then SEMI_STATIC, then DYNAMIC.
func NewMatcher(extra map[Category][]string) *Matcher {
	builtin := map[Category][]string{
		CategoryStatic:     StaticKeywords,
		CategorySemiStatic: SemiStaticKeywords,
		CategoryDynamic:    DynamicKeywords,
	}

	m := &Matcher{}
	for _, category := range Categories {
		keywords := append(append([]string{}, builtin[category]...), extra[category]...)
		for _, keyword := range keywords {
			tokens := Tokens(keyword)
			if len(tokens) == 0 {
				continue
			}
			m.rules = append(m.rules, rule{category: category, tokens: tokens})
		}
	}

	return m
}

// Match returns the first category whose keyword appears as a contiguous run of
// whole tokens in the normalized text.
func (m *Matcher) Match(text string) (Category, bool) {
	tokens := Tokens(text)
	if len(tokens) == 0 {
		return CategoryUnresolved, false
	}

	for _, r := range m.rules {
		if containsRun(tokens, r.tokens) {
			return r.category, true
		}
	}

	return CategoryUnresolved, false
}

// MatchField tries the label text first and falls back to the name and id attributes.
func (m *Matcher) MatchField(d FieldDescriptor) (Category, bool) {
	for _, text := range []string{d.RawLabelText, d.Name, d.ID} {
		if category, ok := m.Match(text); ok {
			return category, true
		}
	}
	return CategoryUnresolved, false
}

func containsRun(haystack, needle []string) bool {
	if len(needle) > len(haystack) {
		return false
	}

outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j := range needle {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return true
	}

	return false
}
