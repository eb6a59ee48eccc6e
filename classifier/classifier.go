// Package classifier implements the change classifier: a cheap,
// intentionally imprecise fast/slow verdict on a source edit, computed by
// hashing a structural signature (type, method and field declaration
// lines picked out by line heuristics) rather than compiling. A signature-hash match proves "only method
// bodies changed" with enough confidence to skip the module inspector's
// full compatibility check.
package classifier

import (
	"bufio"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/GoCodeAlone/hotpatch/logging"
)

// Kind is the classifier's verdict.
type Kind int

const (
	// KindNone is returned for empty/unreadable source; the caller should skip it.
	KindNone Kind = iota
	// KindFirstAnalysis is returned the first time a path is seen.
	KindFirstAnalysis
	// KindMethodBodyOnly is returned when the structural signature is unchanged.
	KindMethodBodyOnly
	// KindSignatureChanged is returned when the structural signature differs from the cache.
	KindSignatureChanged
)

func (k Kind) String() string {
	switch k {
	case KindFirstAnalysis:
		return "FirstAnalysis"
	case KindMethodBodyOnly:
		return "MethodBodyOnly"
	case KindSignatureChanged:
		return "SignatureChanged"
	default:
		return "None"
	}
}

// Verdict is the result of Analyze.
type Verdict struct {
	Kind        Kind
	Reason      string
	CanFastPath bool
}

// Classifier holds the persisted signature cache and a logger.
type Classifier struct {
	cache  *Cache
	logger logging.Logger
}

// New creates a Classifier backed by cache.
func New(cache *Cache, logger logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Classifier{cache: cache, logger: logger}
}

// Analyze computes the fast/slow verdict for a source edit at sourcePath.
func (c *Classifier) Analyze(sourcePath, sourceText string) Verdict {
	if strings.TrimSpace(sourceText) == "" {
		c.logger.Debug("classifier: empty source", "path", sourcePath)
		return Verdict{Kind: KindNone, Reason: "empty source"}
	}

	sig := structuralSignature(sourceText)
	hash := hashSignature(sig)

	prev, ok := c.cache.Get(sourcePath)
	if !ok {
		c.cache.Put(sourcePath, hash)
		c.logger.Debug("classifier: first analysis", "path", sourcePath)
		return Verdict{Kind: KindFirstAnalysis, Reason: "no prior signature cached"}
	}
	if prev == hash {
		c.logger.Debug("classifier: method body only", "path", sourcePath)
		return Verdict{Kind: KindMethodBodyOnly, Reason: "structural signature unchanged", CanFastPath: true}
	}
	c.cache.Put(sourcePath, hash)
	c.logger.Debug("classifier: signature changed", "path", sourcePath)
	return Verdict{Kind: KindSignatureChanged, Reason: "structural signature differs from cache"}
}

// structuralSignature extracts the list of structural lines: type
// declarations, method-declaration heuristic lines, and field/property
// heuristic lines, all inside type scope, with comments stripped and
// whitespace collapsed.
func structuralSignature(src string) []string {
	stripped := stripComments(src)
	// Break the text after each ';' and '}', and after each '{' that follows
	// a ')', outside string literals, so a one-line declaration is scanned
	// member by member.
	var split strings.Builder
	inStr, esc := false, false
	for _, c := range stripped {
		body := c == '{' && strings.HasSuffix(strings.TrimRight(split.String(), " \t\r\n"), ")")
		split.WriteRune(c)
		if inStr {
			inStr, esc = esc || c != '"', !esc && c == '\\'
		} else if c == '"' {
			inStr = true
		} else if c == ';' || c == '}' || body {
			split.WriteRune('\n')
		}
	}
	stripped = split.String()
	var sigs []string
	depth := 0
	inType := false
	typeDepthStack := []int{}

	scanner := bufio.NewScanner(strings.NewReader(stripped))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Text()
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		isTypeDecl := startsTypeDecl(line)
		if isTypeDecl {
			sigs = append(sigs, normalizeLine(line))
			typeDepthStack = append(typeDepthStack, depth)
			inType = true
		} else if inType {
			if looksLikeMethodDecl(line) || looksLikeFieldOrProperty(line) {
				sigs = append(sigs, normalizeLine(line))
			}
		}

		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if len(typeDepthStack) > 0 && depth <= typeDepthStack[len(typeDepthStack)-1] {
			typeDepthStack = typeDepthStack[:len(typeDepthStack)-1]
			inType = len(typeDepthStack) > 0
		}
	}
	return sigs
}

// startsTypeDecl reports whether line begins a type declaration, tolerating
// leading access modifiers ("public class C {" as well as bare "class C {").
func startsTypeDecl(line string) bool {
	fields := strings.Fields(line)
	for _, f := range fields {
		switch f {
		case "class", "struct", "interface", "enum":
			return true
		case "(", ")", "{", "}", ";":
			return false
		}
	}
	return false
}

func looksLikeMethodDecl(line string) bool {
	if !strings.Contains(line, "(") || !strings.Contains(line, ")") {
		return false
	}
	if strings.HasSuffix(line, ";") || strings.HasSuffix(line, "=") {
		return false
	}
	for _, kw := range []string{"if ", "if(", "for ", "for(", "while ", "while(", "switch ", "switch(", "catch ", "catch("} {
		if strings.HasPrefix(line, kw) {
			return false
		}
	}
	return true
}

func looksLikeFieldOrProperty(line string) bool {
	if strings.Contains(line, "get;") || strings.Contains(line, "set;") {
		return true
	}
	if strings.HasSuffix(line, ";") && !strings.Contains(line, "(") {
		return true
	}
	return false
}

func normalizeLine(line string) string {
	fields := strings.Fields(line)
	joined := strings.Join(fields, " ")
	if idx := strings.Index(joined, "//"); idx >= 0 {
		joined = strings.TrimSpace(joined[:idx])
	}
	return joined
}

func stripComments(src string) string {
	var b strings.Builder
	inBlock := false
	inLine := false
	inString := false
	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		var next rune
		if i+1 < len(runes) {
			next = runes[i+1]
		}
		if inLine {
			if c == '\n' {
				inLine = false
				b.WriteRune(c)
			}
			continue
		}
		if inBlock {
			if c == '*' && next == '/' {
				inBlock = false
				i++
			}
			continue
		}
		if inString {
			b.WriteRune(c)
			if c == '\\' && i+1 < len(runes) {
				b.WriteRune(next)
				i++
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteRune(c)
			continue
		}
		if c == '/' && next == '/' {
			inLine = true
			i++
			continue
		}
		if c == '/' && next == '*' {
			inBlock = true
			i++
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func hashSignature(sig []string) string {
	joined := strings.Join(sig, "\n")
	sum := sha256.Sum256([]byte(joined))
	return base64.StdEncoding.EncodeToString(sum[:])
}
