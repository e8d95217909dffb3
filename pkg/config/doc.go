// Package config loads the DTS configuration grammar: a
// sequence of `dts` and `queue` stanzas, each opening with its keyword in
// column 1 and closed by the next stanza or end of file.
//
// The grammar is not ini/yaml/toml/hcl shaped (no sections, no nesting,
// bare keyword stanza openers) so it is hand-parsed with bufio.Scanner
// rather than reached for through a structured-format library.
package config
