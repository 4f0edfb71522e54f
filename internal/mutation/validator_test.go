package mutation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const validScript = `def generate_signal(candles, params):
    fast = sma(candles, params["fast_period"])
    slow = sma(candles, params["slow_period"])
    if fast > slow:
        return "buy"
    return "hold"
`

func TestValidateSourceAccepts(t *testing.T) {
	assert.NoError(t, ValidateSource(validScript))
}

func TestValidateSourceRejectsEmpty(t *testing.T) {
	assert.Error(t, ValidateSource(""))
	assert.Error(t, ValidateSource("   \n\t  "))
}

func TestValidateSourceRequiresEntryPoint(t *testing.T) {
	err := ValidateSource("def some_other_function():\n    return 1\n")
	assert.ErrorContains(t, err, "entry point")
}

func TestValidateSourceRejectsForbiddenAPIs(t *testing.T) {
	cases := []string{
		`os.system("rm -rf /")`,
		`subprocess.run(["ls"])`,
		`eval("1+1")`,
		`__import__("os")`,
		`open("/etc/passwd")`,
		`requests.get("http://example.com")`,
	}
	for _, call := range cases {
		source := "def generate_signal(candles, params):\n    " + call + "\n    return \"hold\"\n"
		assert.Error(t, ValidateSource(source), "should reject %s", call)
	}
}

func TestValidateSourceBalancedDelimiters(t *testing.T) {
	unclosed := "def generate_signal(candles, params):\n    x = (1 + 2\n    return \"hold\"\n"
	assert.ErrorContains(t, ValidateSource(unclosed), "unclosed")

	extra := "def generate_signal(candles, params):\n    x = 1 + 2)\n    return \"hold\"\n"
	assert.ErrorContains(t, ValidateSource(extra), "unbalanced")

	mismatched := "def generate_signal(candles, params):\n    x = [1, 2)\n    return \"hold\"\n"
	assert.Error(t, ValidateSource(mismatched))

	// Delimiters inside string literals do not count
	inString := "def generate_signal(candles, params):\n    s = \"((([\"\n    return \"hold\"\n"
	assert.NoError(t, ValidateSource(inString))
}

func TestValidateSourceSizeCap(t *testing.T) {
	huge := validScript + "# " + strings.Repeat("x", maxSourceBytes) + "\n"
	assert.ErrorContains(t, ValidateSource(huge), "exceeds")
}
