// Package admin serves a local operator console over a line-oriented
// TCP protocol: one command per line, a text response terminated by a
// blank line. cmd/forestadm is the interactive client.
package admin

import (
	"bufio"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jonturner53/forestctl/internal/comtree"
	"github.com/jonturner53/forestctl/internal/logger"
	"github.com/jonturner53/forestctl/internal/topology"
)

// Server answers introspection commands against live controller state.
// Reads go through the same locks the handlers use (Table busy-flags,
// the topology mutex), so a console query never observes a comtree
// mid-mutation.
type Server struct {
	Topo  *topology.Topology
	Table *comtree.Table
	Log   logger.Logger

	lis  net.Listener
	mu   sync.Mutex
	done bool
}

// Listen binds the admin endpoint and starts accepting connections.
func Listen(bind string, topo *topology.Topology, table *comtree.Table, log logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.NopLogger{}
	}
	lis, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("admin: listen %q: %w", bind, err)
	}
	s := &Server{Topo: topo, Table: table, Log: log.Named("admin"), lis: lis}
	go s.acceptLoop()
	return s, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr { return s.lis.Addr() }

// Close stops accepting connections.
func (s *Server) Close() error {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	return s.lis.Close()
}

func (s *Server) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.lis.Accept()
		if err != nil {
			if s.closed() {
				return
			}
			s.Log.Warn("accept failed", logger.F("err", err))
			return
		}
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	sc := bufio.NewScanner(conn)
	w := bufio.NewWriter(conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "quit" {
			return
		}
		resp := s.handle(line)
		fmt.Fprintf(w, "%s\n\n", strings.TrimRight(resp, "\n"))
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) handle(line string) string {
	args := strings.Fields(line)
	switch args[0] {
	case "help":
		return "commands: comtrees | comtree <n> | routers | links | leaves | quit"
	case "comtrees":
		return s.listComtrees()
	case "comtree":
		if len(args) < 2 {
			return "usage: comtree <n>"
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Sprintf("bad comtree number %q", args[1])
		}
		return s.showComtree(n)
	case "routers":
		return s.listRouters()
	case "links":
		return s.listLinks()
	case "leaves":
		return s.listLeaves()
	default:
		return fmt.Sprintf("unknown command %q (try help)", args[0])
	}
}

func (s *Server) listComtrees() string {
	nums := s.Table.Numbers()
	sort.Ints(nums)
	if len(nums) == 0 {
		return "no comtrees"
	}
	var b strings.Builder
	for _, n := range nums {
		ct, err := s.Table.GetComtree(n)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "comtree %d root=%s owner=%s mode=%s routers=%d leaves=%d\n",
			ct.Number, ct.Root, ct.Owner, ct.ConfigMode, len(ct.Routers), len(ct.Leaves))
		s.Table.ReleaseComtree(ct)
	}
	return b.String()
}

func (s *Server) showComtree(n int) string {
	ct, err := s.Table.GetComtree(n)
	if err != nil {
		return err.Error()
	}
	defer s.Table.ReleaseComtree(ct)

	var b strings.Builder
	fmt.Fprintf(&b, "comtree %d root=%s owner=%s mode=%s\n", ct.Number, ct.Root, ct.Owner, ct.ConfigMode)
	fmt.Fprintf(&b, "  defaultBbRates=%s defaultLeafRates=%s\n", ct.DefaultBbRates, ct.DefaultLeafRates)

	var routers []*comtree.Router
	ct.ForEachRouter(func(r *comtree.Router) { routers = append(routers, r) })
	sort.Slice(routers, func(i, j int) bool { return routers[i].Addr < routers[j].Addr })
	for _, r := range routers {
		fmt.Fprintf(&b, "  rtr %s plnk=%d core=%v frozen=%v links=%d subtree=%s plnkRates=%s\n",
			r.Addr, r.ParentLink, r.Core, r.Frozen, r.LinkCount, r.SubtreeRates, r.PlinkRates)
	}

	var leaves []*comtree.Leaf
	ct.ForEachLeaf(func(l *comtree.Leaf) { leaves = append(leaves, l) })
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Addr < leaves[j].Addr })
	for _, l := range leaves {
		fmt.Fprintf(&b, "  leaf %s parent=%s link=%d rates=%s\n",
			l.Addr, l.ParentRouter, l.ParentLocalLink, l.Rates)
	}
	return b.String()
}

func (s *Server) listRouters() string {
	var b strings.Builder
	var routers []*topology.Router
	s.Topo.ForEachRouter(func(r *topology.Router) { routers = append(routers, r) })
	sort.Slice(routers, func(i, j int) bool { return routers[i].Addr < routers[j].Addr })
	for _, r := range routers {
		fmt.Fprintf(&b, "rtr %s (%s) status=%s ifaces=%d leafRange=%d.%d-%d.%d\n",
			r.Addr, r.Name, r.Status, len(r.Interfaces),
			r.LeafRange.Zip, r.LeafRange.Lo, r.LeafRange.Zip, r.LeafRange.Hi)
	}
	if b.Len() == 0 {
		return "no routers"
	}
	return b.String()
}

func (s *Server) listLinks() string {
	var b strings.Builder
	s.Topo.ForEachLink(func(l *topology.Link) {
		fmt.Fprintf(&b, "link %d %s<->%s cap=%s avail=%s\n",
			l.ID, l.Left.Addr, l.Right.Addr, l.Capacity, l.Available)
	})
	if b.Len() == 0 {
		return "no links"
	}
	return b.String()
}

func (s *Server) listLeaves() string {
	var b strings.Builder
	var lines []string
	s.Topo.ForEachLeaf(func(l *topology.Leaf) {
		lines = append(lines, fmt.Sprintf("leaf %s (%s) status=%s rtr=%s static=%v",
			l.Addr, l.Name, l.Status, l.AccessRouter, l.Static))
	})
	sort.Strings(lines)
	if len(lines) == 0 {
		return "no leaves"
	}
	for _, ln := range lines {
		b.WriteString(ln)
		b.WriteByte('\n')
	}
	return b.String()
}
