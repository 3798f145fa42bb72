package aces

import (
	"encoding/json"
	"fmt"
)

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// scrollScript asks the listing to render its next chunk of rows.
const scrollScript = `(function() {
	window.scrollTo(0, document.body.scrollHeight);
	var grids = document.querySelectorAll('[role="grid"], .ag-body-viewport, .table-responsive');
	for (var i = 0; i < grids.length; i++) {
		grids[i].scrollTop = grids[i].scrollHeight;
	}
	return true;
})()`

// rowTextsScript returns the visible text of every listing row.
const rowTextsScript = `(function() {
	var out = [];
	document.querySelectorAll('tr, [role="row"]').forEach(function(row) {
		var text = row.textContent || '';
		if (text) out.push(text);
	});
	return out;
})()`

// triggerScript finds the element naming the file, preferring the innermost
// one, and activates it: through its row's link when there is one,
// otherwise by dispatching mouse events. It returns false when nothing
// matches.
func triggerScript(filename string) string {
	return fmt.Sprintf(`(function(name) {
	var all = document.querySelectorAll('body *');
	var exact = null, partial = null;
	for (var i = 0; i < all.length; i++) {
		var el = all[i];
		var text = (el.textContent || '').trim();
		if (text.indexOf(name) < 0) continue;
		if (text === name && !exact) exact = el;
		if (!partial || partial.contains(el)) partial = el;
	}
	var target = exact || partial;
	if (!target) return false;

	target.scrollIntoView({block: 'center'});
	var row = target.closest('tr, [role="row"]') || target;
	var link = row.querySelector('a[href]:not([href="#"]), a[download]');
	if (link) {
		link.setAttribute('download', name);
		link.click();
		return true;
	}
	['mousedown', 'mouseup', 'click', 'dblclick'].forEach(function(type) {
		target.dispatchEvent(new MouseEvent(type, {bubbles: true, cancelable: true, view: window}));
	});
	return true;
})(%s)`, jsString(filename))
}

// rowLinksScript collects URL-looking attributes from the row naming the
// file: hrefs, data-url attributes and string literals in onclick handlers
// that mention a download.
func rowLinksScript(filename string) string {
	return fmt.Sprintf(`(function(name) {
	var out = [];
	var rows = document.querySelectorAll('tr, [role="row"]');
	for (var i = 0; i < rows.length; i++) {
		if ((rows[i].textContent || '').indexOf(name) < 0) continue;
		var els = rows[i].querySelectorAll('a[href], [data-url], [onclick]');
		for (var j = 0; j < els.length; j++) {
			var url = els[j].getAttribute('href') || els[j].getAttribute('data-url') || '';
			if (url && url !== '#' && (url.indexOf('.csv') >= 0 || url.indexOf('download') >= 0)) {
				out.push(url);
			}
			var onclick = els[j].getAttribute('onclick') || '';
			var m = onclick.match(/['"]([^'"]*download[^'"]*)['"]/);
			if (m) out.push(m[1]);
		}
	}
	return out;
})(%s)`, jsString(filename))
}

// fetchResult is what fetchScript resolves to.
type fetchResult struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Disposition string `json:"disposition"`
	Body        string `json:"body"`
	Error       string `json:"error"`
}

// fetchScript performs a same-origin fetch from the page and resolves to a
// fetchResult with the body base64 encoded.
func fetchScript(url string) string {
	return fmt.Sprintf(`(async function(url) {
	try {
		const resp = await fetch(url, {credentials: 'include'});
		const buf = new Uint8Array(await resp.arrayBuffer());
		let bin = '';
		for (let i = 0; i < buf.length; i += 0x8000) {
			bin += String.fromCharCode.apply(null, buf.subarray(i, i + 0x8000));
		}
		return {
			status: resp.status,
			contentType: resp.headers.get('content-type') || '',
			disposition: resp.headers.get('content-disposition') || '',
			body: btoa(bin),
			error: ''
		};
	} catch (e) {
		return {status: 0, contentType: '', disposition: '', body: '', error: String(e)};
	}
})(%s)`, jsString(url))
}
