package router

import (
	"html"
	"strings"
)

// helpText renders HTML help for path, listing only what lvl may run.
func (r *Router) helpText(path []string, lvl Access) string {
	r.mu.RLock()
	root, alias := r.root, r.alias
	r.mu.RUnlock()

	if len(path) == 0 {
		return helpTop(root, lvl)
	}
	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.ToLower(strings.TrimPrefix(p, "/"))
		n, ok := cur.child(p)
		if !ok {
			if leaf, ok := alias[p]; ok && leaf.cmd != nil && len(full) == 0 {
				cur, full = leaf, splitRoute(leaf.cmd.Route)
				break
			}
			return "Unknown command. Try /help"
		}
		cur = n
		full = append(full, p)
	}
	if cur.minAccess() > lvl {
		return "Unknown command. Try /help"
	}
	return helpNode(cur, full, lvl)
}

func helpTop(root *cmdNode, lvl Access) string {
	lines := []string{"<b>Commands</b>"}
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		if n.minAccess() > lvl {
			continue
		}
		lines = append(lines, "• <code>/"+html.EscapeString(name)+"</code>"+descSuffix(n))
	}
	lines = append(lines, "", "Send <code>/help &lt;command&gt;</code> for details.")
	return strings.Join(lines, "\n")
}

func helpNode(cur *cmdNode, full []string, lvl Access) string {
	lines := []string{"<b>/" + html.EscapeString(strings.Join(full, " ")) + "</b>"}
	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "Usage: <code>"+html.EscapeString(u)+"</code>")
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "Aliases: /"+html.EscapeString(strings.Join(c.Aliases, ", /")))
		}
	}
	if len(cur.children) > 0 {
		lines = append(lines, "")
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			if n.minAccess() > lvl {
				continue
			}
			path := strings.Join(append(append([]string(nil), full...), name), " ")
			lines = append(lines, "• <code>/"+html.EscapeString(path)+"</code>"+descSuffix(n))
		}
	}
	return strings.Join(lines, "\n")
}

func descSuffix(n *cmdNode) string {
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return " - " + html.EscapeString(d)
		}
	}
	if kids := n.childNames(); len(kids) > 0 {
		return " - " + html.EscapeString(strings.Join(kids, ", "))
	}
	return ""
}
