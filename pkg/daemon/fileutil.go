package daemon

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dts-project/dts/pkg/dtserr"
	"golang.org/x/sys/unix"
)

// registerFileUtilHandlers wires the file-utility RPC group: a small
// sandboxed filesystem interface rooted at d.fsRoot, for operators and
// delivery scripts that need to inspect or rearrange spool-adjacent files
// without shelling into the node.
func (d *Daemon) registerFileUtilHandlers() {
	d.server.Register("access", d.handleAccess)
	d.server.Register("cat", d.handleCat)
	d.server.Register("checksum", d.handleChecksum)
	d.server.Register("chmod", d.handleChmod)
	d.server.Register("copy", d.handleCopy)
	d.server.Register("cwd", d.handleCwd)
	d.server.Register("del", d.handleDel)
	d.server.Register("dir", d.handleDir)
	d.server.Register("ddir", d.handleDdir)
	d.server.Register("isDir", d.handleIsDir)
	d.server.Register("diskFree", d.handleDiskFree)
	d.server.Register("diskUsed", d.handleDiskUsed)
	d.server.Register("echo", d.handleEcho)
	d.server.Register("fsize", d.handleFsize)
	d.server.Register("fmode", d.handleFmode)
	d.server.Register("ftime", d.handleFtime)
	d.server.Register("mkdir", d.handleMkdir)
	d.server.Register("rename", d.handleRename)
	d.server.Register("setRoot", d.handleSetRoot)
	d.server.Register("stat", d.handleStat)
	d.server.Register("statVal", d.handleStatVal)
	d.server.Register("touch", d.handleTouch)
	d.server.Register("read", d.handleRead)
	d.server.Register("prealloc", d.handlePrealloc)
}

// resolvePath joins rel onto the current fsRoot and rejects any result
// that would escape it, so a malicious or buggy caller can't walk the
// node's filesystem outside its configured sandbox.
func (d *Daemon) resolvePath(rel string) (string, error) {
	d.rootMu.RLock()
	root := d.fsRoot
	d.rootMu.RUnlock()

	clean := filepath.Clean("/" + rel)
	full := filepath.Join(root, clean)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path %q escapes root", dtserr.ErrProtocolViolation, rel)
	}
	return full, nil
}

func (d *Daemon) path1(args []string, name string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: %s wants 1 arg, got %d", dtserr.ErrProtocolViolation, name, len(args))
	}
	return d.resolvePath(args[0])
}

func (d *Daemon) handleAccess(ctx context.Context, args []string) ([]string, error) {
	p, err := d.path1(args, "access")
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(p); err != nil {
		return []string{"false"}, nil
	}
	return []string{"true"}, nil
}

func (d *Daemon) handleCat(ctx context.Context, args []string) ([]string, error) {
	p, err := d.path1(args, "cat")
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return []string{base64.StdEncoding.EncodeToString(data)}, nil
}

func (d *Daemon) handleChecksum(ctx context.Context, args []string) ([]string, error) {
	p, err := d.path1(args, "checksum")
	if err != nil {
		return nil, err
	}
	sum32, crcVal, md5Hex, err := fileChecksums(p)
	if err != nil {
		return nil, err
	}
	return []string{strconv.FormatUint(uint64(sum32), 10), strconv.FormatUint(uint64(crcVal), 10), md5Hex}, nil
}

func (d *Daemon) handleChmod(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: chmod wants 2 args, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	p, err := d.resolvePath(args[0])
	if err != nil {
		return nil, err
	}
	mode, err := strconv.ParseUint(args[1], 8, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: chmod: bad mode %q", dtserr.ErrProtocolViolation, args[1])
	}
	if err := os.Chmod(p, os.FileMode(mode)); err != nil {
		return nil, err
	}
	return []string{"ok"}, nil
}

func (d *Daemon) handleCopy(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: copy wants 2 args, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	src, err := d.resolvePath(args[0])
	if err != nil {
		return nil, err
	}
	dst, err := d.resolvePath(args[1])
	if err != nil {
		return nil, err
	}
	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return nil, err
	}
	return []string{"ok"}, nil
}

func (d *Daemon) handleCwd(ctx context.Context, args []string) ([]string, error) {
	d.rootMu.RLock()
	defer d.rootMu.RUnlock()
	return []string{d.fsRoot}, nil
}

func (d *Daemon) handleDel(ctx context.Context, args []string) ([]string, error) {
	p, err := d.path1(args, "del")
	if err != nil {
		return nil, err
	}
	if err := os.Remove(p); err != nil {
		return nil, err
	}
	return []string{"ok"}, nil
}

func (d *Daemon) handleDdir(ctx context.Context, args []string) ([]string, error) {
	p, err := d.path1(args, "ddir")
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(p); err != nil {
		return nil, err
	}
	return []string{"ok"}, nil
}

func (d *Daemon) handleDir(ctx context.Context, args []string) ([]string, error) {
	p, err := d.path1(args, "dir")
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out, nil
}

func (d *Daemon) handleIsDir(ctx context.Context, args []string) ([]string, error) {
	p, err := d.path1(args, "isDir")
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	return []string{strconv.FormatBool(fi.IsDir())}, nil
}

func (d *Daemon) statfsRoot() (unix.Statfs_t, error) {
	d.rootMu.RLock()
	root := d.fsRoot
	d.rootMu.RUnlock()
	var stat unix.Statfs_t
	err := unix.Statfs(root, &stat)
	return stat, err
}

func (d *Daemon) handleDiskFree(ctx context.Context, args []string) ([]string, error) {
	stat, err := d.statfsRoot()
	if err != nil {
		return nil, err
	}
	free := int64(stat.Bavail) * int64(stat.Bsize)
	return []string{strconv.FormatInt(free, 10)}, nil
}

func (d *Daemon) handleDiskUsed(ctx context.Context, args []string) ([]string, error) {
	stat, err := d.statfsRoot()
	if err != nil {
		return nil, err
	}
	used := (int64(stat.Blocks) - int64(stat.Bfree)) * int64(stat.Bsize)
	return []string{strconv.FormatInt(used, 10)}, nil
}

func (d *Daemon) handleEcho(ctx context.Context, args []string) ([]string, error) {
	return args, nil
}

func (d *Daemon) handleFsize(ctx context.Context, args []string) ([]string, error) {
	p, err := d.path1(args, "fsize")
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	return []string{strconv.FormatInt(fi.Size(), 10)}, nil
}

func (d *Daemon) handleFmode(ctx context.Context, args []string) ([]string, error) {
	p, err := d.path1(args, "fmode")
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	return []string{strconv.FormatUint(uint64(fi.Mode().Perm()), 8)}, nil
}

func (d *Daemon) handleFtime(ctx context.Context, args []string) ([]string, error) {
	p, err := d.path1(args, "ftime")
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	return []string{strconv.FormatInt(fi.ModTime().Unix(), 10)}, nil
}

func (d *Daemon) handleMkdir(ctx context.Context, args []string) ([]string, error) {
	p, err := d.path1(args, "mkdir")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return nil, err
	}
	return []string{"ok"}, nil
}

func (d *Daemon) handleRename(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: rename wants 2 args, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	from, err := d.resolvePath(args[0])
	if err != nil {
		return nil, err
	}
	to, err := d.resolvePath(args[1])
	if err != nil {
		return nil, err
	}
	if err := os.Rename(from, to); err != nil {
		return nil, err
	}
	return []string{"ok"}, nil
}

// handleSetRoot repoints the file-utility sandbox at a new absolute
// directory. Later calls resolve relative to the new root; it does not
// affect the spool or delivery directories, which are independently
// configured.
func (d *Daemon) handleSetRoot(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: setRoot wants 1 arg, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	if _, err := os.Stat(args[0]); err != nil {
		return nil, fmt.Errorf("%w: setRoot: %v", dtserr.ErrProtocolViolation, err)
	}
	d.rootMu.Lock()
	d.fsRoot = filepath.Clean(args[0])
	d.rootMu.Unlock()
	return []string{"ok"}, nil
}

func (d *Daemon) handleStat(ctx context.Context, args []string) ([]string, error) {
	p, err := d.path1(args, "stat")
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("%s %d %o %d", fi.Name(), fi.Size(), fi.Mode().Perm(), fi.ModTime().Unix())}, nil
}

// handleStatVal returns a single named field from stat, for callers that
// want one value rather than parsing the combined "stat" line.
func (d *Daemon) handleStatVal(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: statVal wants 2 args, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	p, err := d.resolvePath(args[0])
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	switch args[1] {
	case "size":
		return []string{strconv.FormatInt(fi.Size(), 10)}, nil
	case "mode":
		return []string{strconv.FormatUint(uint64(fi.Mode().Perm()), 8)}, nil
	case "mtime":
		return []string{strconv.FormatInt(fi.ModTime().Unix(), 10)}, nil
	case "isdir":
		return []string{strconv.FormatBool(fi.IsDir())}, nil
	default:
		return nil, fmt.Errorf("%w: statVal: unknown field %q", dtserr.ErrProtocolViolation, args[1])
	}
}

func (d *Daemon) handleTouch(ctx context.Context, args []string) ([]string, error) {
	p, err := d.path1(args, "touch")
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if _, err := os.Stat(p); os.IsNotExist(err) {
		f, ferr := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o644)
		if ferr != nil {
			return nil, ferr
		}
		f.Close()
	}
	if err := os.Chtimes(p, now, now); err != nil {
		return nil, err
	}
	return []string{"ok"}, nil
}

// handleRead returns up to a bounded byte range of a file, base64-encoded
// so binary content survives the plain-string RPC wire format.
func (d *Daemon) handleRead(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("%w: read wants 3 args, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	p, err := d.resolvePath(args[0])
	if err != nil {
		return nil, err
	}
	offset, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: read: bad offset %q", dtserr.ErrProtocolViolation, args[1])
	}
	length, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: read: bad length %q", dtserr.ErrProtocolViolation, args[2])
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return []string{base64.StdEncoding.EncodeToString(buf[:n])}, nil
}

// handlePrealloc extends a file to size bytes, the same way a stripe
// receiver sizes its destination file before any stripe writes.
func (d *Daemon) handlePrealloc(ctx context.Context, args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: prealloc wants 2 args, got %d", dtserr.ErrProtocolViolation, len(args))
	}
	p, err := d.resolvePath(args[0])
	if err != nil {
		return nil, err
	}
	size, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: prealloc: bad size %q", dtserr.ErrProtocolViolation, args[1])
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return nil, err
	}
	return []string{"ok"}, nil
}
