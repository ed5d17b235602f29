package omr

// Answer is the decision for one question: an option letter or blank.
type Answer string

const (
	AnswerA     Answer = "A"
	AnswerB     Answer = "B"
	AnswerC     Answer = "C"
	AnswerD     Answer = "D"
	AnswerBlank Answer = "-"
)

// Options lists the option letters in sub-cell order, left to right.
var Options = [4]Answer{AnswerA, AnswerB, AnswerC, AnswerD}

// IDMethod records which strategy produced (or last attempted) the identifier.
type IDMethod string

const (
	IDMethodGrid IDMethod = "grid"
	IDMethodOCR  IDMethod = "ocr"
)

// AutoQuestions asks ScanFilledSheet to estimate the question count.
const AutoQuestions = -1

// GridHypothesis is one candidate layout of the answer grid, in pixels.
type GridHypothesis struct {
	TopFactor  float64 `json:"topFactor"`
	BandFactor float64 `json:"bandFactor"`
	Columns    int     `json:"columns"`
	Rows       int     `json:"rows"`
	Top        float64 `json:"top"`
	Bottom     float64 `json:"bottom"`
	Left       float64 `json:"left"`
	Right      float64 `json:"right"`
}

// Alignment is one local-search combination, as fractions of the padded cell.
type Alignment struct {
	XOffset float64 `json:"xOffset"`
	XBand   float64 `json:"xBand"`
	YOffset float64 `json:"yOffset"`
	YBand   float64 `json:"yBand"`
}

// CellScores are the four option fill scores of one question under its best alignment.
type CellScores struct {
	Index     int        `json:"index"`
	Scores    [4]float64 `json:"scores"`
	Alignment Alignment  `json:"alignment"`
	Quality   float64    `json:"quality"`
}

// HypothesisRecord is the debug trace of one evaluated hypothesis.
type HypothesisRecord struct {
	GridHypothesis
	Quality float64 `json:"quality"`
}

// QuestionRecord is the debug trace of one decided question.
type QuestionRecord struct {
	CellScores
	Best            float64 `json:"best"`
	Margin          float64 `json:"margin"`
	Threshold       float64 `json:"threshold"`
	MarginThreshold float64 `json:"marginThreshold"`
	Answer          Answer  `json:"answer"`
}

// CountScore is the estimator score of one candidate question count.
type CountScore struct {
	Count int     `json:"count"`
	Score float64 `json:"score"`
}

// EstimateRecord is the debug trace of question-count estimation.
type EstimateRecord struct {
	Candidates []CountScore `json:"candidates"`
	Chosen     int          `json:"chosen"`
}

// IdentifierRecord is the debug trace of identifier extraction.
type IdentifierRecord struct {
	GridDigits     string `json:"gridDigits,omitempty"`
	GridError      string `json:"gridError,omitempty"`
	OCRText        string `json:"ocrText,omitempty"`
	OCRError       string `json:"ocrError,omitempty"`
	OCRUnavailable bool   `json:"ocrUnavailable,omitempty"`
}

// Debug carries diagnostics that are never part of the scoring contract.
type Debug struct {
	Width      int                `json:"width"`
	Height     int                `json:"height"`
	Hypotheses []HypothesisRecord `json:"hypotheses,omitempty"`
	Chosen     int                `json:"chosen"`
	GlobalMax  float64            `json:"globalMax"`
	Questions  []QuestionRecord   `json:"questions,omitempty"`
	Estimate   *EstimateRecord    `json:"estimate,omitempty"`
	Identifier *IdentifierRecord  `json:"identifier,omitempty"`
	TimedOut   bool               `json:"timedOut,omitempty"`
	ElapsedMs  int64              `json:"elapsedMs"`
}

// IDResult is the outcome of ScanUniqueID.
type IDResult struct {
	UniqueNumber string            `json:"uniqueNumber,omitempty"` // empty when not found
	Method       IDMethod          `json:"method"`
	Debug        *IdentifierRecord `json:"debug,omitempty"`
}

// Found reports whether an identifier was extracted.
func (r *IDResult) Found() bool { return r.UniqueNumber != "" }

// AnswersResult is the outcome of ScanAnswers and ScanAnswersAuto.
type AnswersResult struct {
	TotalQuestions int      `json:"totalQuestions"`
	Answers        []Answer `json:"answers"`
	Debug          *Debug   `json:"debug,omitempty"`
}

// ScanResult is the outcome of ScanFilledSheet.
type ScanResult struct {
	UniqueNumber   string   `json:"uniqueNumber,omitempty"`
	IDMethod       IDMethod `json:"idMethod"`
	TotalQuestions int      `json:"totalQuestions"`
	Answers        []Answer `json:"answers"`
	Debug          *Debug   `json:"debug,omitempty"`
}

// AnswerString joins answers into the compact "AB-D" form.
func AnswerString(answers []Answer) string {
	b := make([]byte, 0, len(answers))
	for _, a := range answers {
		b = append(b, a...)
	}
	return string(b)
}

func blankAnswers(n int) []Answer {
	out := make([]Answer, n)
	for i := range out {
		out[i] = AnswerBlank
	}
	return out
}
