package server

import (
	"bytes"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// reloadScript is the browser half of the live-reload loop: it listens
// on /ws and reloads the page when the hub announces a change.
const reloadScript = `(function() {
	var proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
	function connect() {
		var ws = new WebSocket(proto + '//' + location.host + '/ws');
		ws.onmessage = function(ev) {
			var msg = JSON.parse(ev.data);
			if (msg.type === 'reload') {
				location.reload();
			}
		};
		ws.onclose = function() {
			setTimeout(connect, 2000);
		};
	}
	connect();
})();`

// injectReloadScript appends the live-reload script to the page's body
// element. The document is reparsed rather than string-spliced so the
// script lands inside <body> even when the page never wrote a literal
// </body> tag. On any parse or render failure the page ships untouched.
func injectReloadScript(page []byte) []byte {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return page
	}

	body := findElement(doc, atom.Body)
	if body == nil {
		return page
	}

	script := &html.Node{
		Type:     html.ElementNode,
		Data:     "script",
		DataAtom: atom.Script,
	}
	script.AppendChild(&html.Node{Type: html.TextNode, Data: reloadScript})
	body.AppendChild(script)

	var out bytes.Buffer
	if err := html.Render(&out, doc); err != nil {
		return page
	}
	return out.Bytes()
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
