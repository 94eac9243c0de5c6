package sshconntest

import (
	"context"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/chrisreddington/ssh-mcp/internal/sshconn"
)

// MissingDirPrefix marks directories that do not exist on the fake host.
const MissingDirPrefix = "/nonexistent"

// NewShell returns a Handler that interprets a subset of sh: ";" and "&&"
// lists, "{ ...; }" groups, NAME=value assignments with $? and $NAME
// expansion, and the builtins cd, pwd, echo, printf, true, false, exit and
// sleep. "echo ... >&2" writes to stderr. Every command starts in home, like
// a fresh exec channel.
func NewShell(home string) Handler {
	return func(ctx context.Context, command string) (*sshconn.Result, error) {
		in := &interp{
			ctx:  ctx,
			home: home,
			cwd:  home,
			vars: map[string]string{},
			toks: tokenize(command),
		}
		in.list(true)
		if in.err != nil {
			return nil, in.err
		}
		return &sshconn.Result{Stdout: in.stdout.String(), Stderr: in.stderr.String(), ExitStatus: in.rc}, nil
	}
}

type tok struct {
	text   string
	op     bool
	quoted bool
}

func tokenize(s string) []tok {
	var toks []tok
	var cur strings.Builder
	inWord, quoted := false, false

	flush := func() {
		if inWord {
			toks = append(toks, tok{text: cur.String(), quoted: quoted})
		}
		cur.Reset()
		inWord, quoted = false, false
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'':
			end := strings.IndexByte(s[i+1:], '\'')
			if end < 0 {
				end = len(s) - i - 1
			}
			cur.WriteString(s[i+1 : i+1+end])
			inWord, quoted = true, true
			i += end + 1
		case c == ' ' || c == '\t' || c == '\n':
			flush()
		case c == ';':
			flush()
			toks = append(toks, tok{text: ";", op: true})
		case c == '&' && i+1 < len(s) && s[i+1] == '&':
			flush()
			toks = append(toks, tok{text: "&&", op: true})
			i++
		default:
			cur.WriteByte(c)
			inWord = true
		}
	}
	flush()
	return toks
}

type interp struct {
	ctx    context.Context
	toks   []tok
	pos    int
	home   string
	cwd    string
	vars   map[string]string
	rc     int
	exited bool
	err    error
	stdout strings.Builder
	stderr strings.Builder
}

func (in *interp) peek() (tok, bool) {
	if in.pos >= len(in.toks) {
		return tok{}, false
	}
	return in.toks[in.pos], true
}

func (in *interp) isOp(t tok, text string) bool { return t.op && t.text == text }

func (in *interp) isWord(t tok, text string) bool { return !t.op && !t.quoted && t.text == text }

func (in *interp) halted() bool { return in.exited || in.err != nil }

// list runs "cmd ((; | &&) cmd)*" up to end of input or a closing brace.
func (in *interp) list(run bool) {
	for {
		in.andOr(run)
		t, ok := in.peek()
		if !ok || !in.isOp(t, ";") {
			return
		}
		in.pos++
		if t, ok = in.peek(); !ok || in.isWord(t, "}") {
			return
		}
	}
}

func (in *interp) andOr(run bool) {
	in.command(run)
	for {
		t, ok := in.peek()
		if !ok || !in.isOp(t, "&&") {
			return
		}
		in.pos++
		in.command(run && !in.halted() && in.rc == 0)
	}
}

func (in *interp) command(run bool) {
	run = run && !in.halted()

	if t, ok := in.peek(); ok && in.isWord(t, "{") {
		in.pos++
		in.list(run)
		if t, ok := in.peek(); ok && in.isWord(t, "}") {
			in.pos++
		}
		return
	}

	var words []tok
	for {
		t, ok := in.peek()
		if !ok || t.op || in.isWord(t, "}") {
			break
		}
		words = append(words, t)
		in.pos++
	}
	if run && len(words) > 0 {
		in.simple(words)
	}
}

func (in *interp) expand(t tok) string {
	if t.quoted || !strings.HasPrefix(t.text, "$") {
		return t.text
	}
	name := t.text[1:]
	if name == "?" {
		return strconv.Itoa(in.rc)
	}
	return in.vars[name]
}

func (in *interp) simple(words []tok) {
	first := words[0]
	if i := strings.IndexByte(first.text, '='); i > 0 && !first.quoted && len(words) == 1 {
		in.vars[first.text[:i]] = in.expand(tok{text: first.text[i+1:]})
		in.rc = 0
		return
	}

	toStderr := false
	if last := words[len(words)-1]; !last.quoted && last.text == ">&2" {
		toStderr = true
		words = words[:len(words)-1]
	}

	args := make([]string, len(words))
	for i, w := range words {
		args[i] = in.expand(w)
	}
	out := &in.stdout
	if toStderr {
		out = &in.stderr
	}

	switch args[0] {
	case "cd":
		dir := in.home
		if len(args) > 1 {
			dir = in.resolve(args[1])
		}
		if strings.HasPrefix(dir, MissingDirPrefix) {
			in.stderr.WriteString("sh: cd: " + args[1] + ": No such file or directory\n")
			in.rc = 1
			return
		}
		in.cwd = dir
		in.rc = 0
	case "pwd":
		out.WriteString(in.cwd + "\n")
		in.rc = 0
	case "echo":
		out.WriteString(strings.Join(args[1:], " ") + "\n")
		in.rc = 0
	case "printf":
		out.WriteString(strings.Join(args[1:], " "))
		in.rc = 0
	case "true":
		in.rc = 0
	case "false":
		in.rc = 1
	case "exit":
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				n = 2
			}
			in.rc = n
		}
		in.exited = true
	case "sleep":
		d := time.Second
		if len(args) > 1 {
			if f, err := strconv.ParseFloat(args[1], 64); err == nil {
				d = time.Duration(f * float64(time.Second))
			}
		}
		select {
		case <-in.ctx.Done():
			in.err = in.ctx.Err()
		case <-time.After(d):
			in.rc = 0
		}
	default:
		in.stderr.WriteString("sh: " + args[0] + ": not found\n")
		in.rc = 127
	}
}

func (in *interp) resolve(dir string) string {
	switch {
	case dir == "~":
		return in.home
	case strings.HasPrefix(dir, "~/"):
		return path.Join(in.home, dir[2:])
	case strings.HasPrefix(dir, "/"):
		return path.Clean(dir)
	}
	return path.Join(in.cwd, dir)
}
