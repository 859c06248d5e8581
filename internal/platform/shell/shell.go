package shell

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"

	"BlockDB/internal/application/service"
	"BlockDB/internal/domain"
	"BlockDB/internal/platform/repository"
)

// Shell is the interactive stdin surface over the store. One command per
// line; records are passed as inline JSON objects.
type Shell struct {
	saveService   *service.SaveRecordService
	getService    *service.GetRecordService
	deleteService *service.DeleteRecordService
	hasService    *service.HasRecordService
	repo          *repository.BlockLogRepository

	in  io.Reader
	out io.Writer
}

func NewShell(saveService *service.SaveRecordService,
	getService *service.GetRecordService,
	deleteService *service.DeleteRecordService,
	hasService *service.HasRecordService,
	repo *repository.BlockLogRepository) *Shell {
	return &Shell{
		saveService:   saveService,
		getService:    getService,
		deleteService: deleteService,
		hasService:    hasService,
		repo:          repo,
		in:            os.Stdin,
		out:           os.Stdout,
	}
}

func (s *Shell) Run() error {
	fmt.Fprintln(s.out, "commands: set <id> <json> | get <id> | del <id> | has <id> | stats | dump | compact | quit")
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	fmt.Fprint(s.out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(s.out, "> ")
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		s.dispatch(line)
		fmt.Fprint(s.out, "> ")
	}
	return scanner.Err()
}

func (s *Shell) dispatch(line string) {
	fields := strings.SplitN(line, " ", 3)
	switch fields[0] {
	case "set":
		if len(fields) < 3 {
			fmt.Fprintln(s.out, "usage: set <id> <json>")
			return
		}
		var value domain.Record
		if err := json.Unmarshal([]byte(fields[2]), &value); err != nil {
			fmt.Fprintln(s.out, "bad json:", err)
			return
		}
		res := s.saveService.Execute(service.SaveRecordCommand{ID: parseID(fields[1]), Value: value})
		s.reply(res.Record, res.Err)
	case "get":
		if len(fields) < 2 {
			fmt.Fprintln(s.out, "usage: get <id>")
			return
		}
		res := s.getService.Execute(service.GetRecordQuery{ID: parseID(fields[1])})
		if res.Err == nil && !res.Found {
			fmt.Fprintln(s.out, "not found")
			return
		}
		s.reply(res.Record, res.Err)
	case "del":
		if len(fields) < 2 {
			fmt.Fprintln(s.out, "usage: del <id>")
			return
		}
		res := s.deleteService.Execute(service.DeleteRecordCommand{ID: parseID(fields[1])})
		s.reply(domain.Record{"deleted": true}, res.Err)
	case "has":
		if len(fields) < 2 {
			fmt.Fprintln(s.out, "usage: has <id>")
			return
		}
		res := s.hasService.Execute(service.HasRecordQuery{ID: parseID(fields[1])})
		s.reply(domain.Record{"found": res.Found}, res.Err)
	case "stats":
		st := s.repo.Engine().Stats()
		fmt.Fprintf(s.out, "seq=%d rid=%d keys=%d blocks=%d\n", st.SeqNo, st.RidNo, st.Keys, len(st.Blocks))
		for _, b := range st.Blocks {
			fmt.Fprintf(s.out, "  %s size=%d stale=%d locked=%v\n", b.Bid, b.Size, b.StaleBytes, b.Locked)
		}
	case "dump":
		spew.Fdump(s.out, s.repo.Engine().Stats())
	case "compact":
		if err := s.repo.Engine().Compact(); err != nil {
			fmt.Fprintln(s.out, "error:", err)
			return
		}
		fmt.Fprintln(s.out, "ok")
	default:
		fmt.Fprintln(s.out, "unknown command:", fields[0])
	}
}

func (s *Shell) reply(rec domain.Record, err error) {
	if err != nil {
		fmt.Fprintln(s.out, "error:", err)
		return
	}
	out, _ := json.Marshal(rec)
	fmt.Fprintln(s.out, string(out))
}

// parseID maps a shell token to a record id: digits become an integer id,
// anything else stays a string.
func parseID(token string) any {
	if n, err := strconv.ParseInt(token, 10, 64); err == nil {
		return n
	}
	return token
}
