package api

const relayDocsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <title>Pandas Table Scraper: Message Relay</title>
  <style>
    body { background: #0d1117; color: #c9d1d9; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; margin: 0 auto; max-width: 860px; padding: 32px 24px; line-height: 1.55; }
    h1, h2 { color: #f0f6fc; }
    h2 { border-bottom: 1px solid #30363d; padding-bottom: 6px; margin-top: 32px; }
    code, pre { font-family: ui-monospace, SFMono-Regular, Menlo, monospace; font-size: 13px; }
    pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 12px 16px; overflow-x: auto; }
    table { border-collapse: collapse; width: 100%; }
    th, td { border: 1px solid #30363d; padding: 6px 10px; text-align: left; vertical-align: top; }
    th { background: #161b22; }
    a { color: #58a6ff; }
  </style>
</head>
<body>
  <p><a href="/docs">&larr; REST API reference</a></p>
  <h1>Message Relay</h1>
  <p>
    <code>GET /ws</code> upgrades to a WebSocket that accepts the same JSON envelopes
    the popup sends. Each text frame carries one request; replies come back in order,
    one per request.
  </p>

  <h2>Requests</h2>
  <table>
    <tr><th>type</th><th>fields</th><th>reply</th></tr>
    <tr><td><code>DETECT_TABLES</code></td><td><code>tabId</code></td><td><code>{"tables":[{"id","hasHeader","name"}]}</code></td></tr>
    <tr><td><code>EXTRACT_TABLE</code></td><td><code>tabId</code>, <code>tableId</code></td><td><code>{"data":[{...}]}</code>, empty for unknown ids</td></tr>
    <tr><td><code>HIGHLIGHT_TABLE</code></td><td><code>tabId</code>, <code>tableId</code></td><td><code>{}</code></td></tr>
    <tr><td><code>RUN_PYTHON</code></td><td><code>code</code>, <code>data</code>, optional <code>tabId</code></td><td><code>RUN_COMPLETE</code> or <code>ERROR</code></td></tr>
  </table>
  <p><code>tabId</code> may be <code>"active"</code>.</p>
<pre>{"type":"RUN_PYTHON","tabId":"active","code":"df.describe()","data":[{"Item":"Apple","Price":"1.20"}]}</pre>

  <h2>Run replies</h2>
<pre>{"type":"RUN_COMPLETE","result":"...","stdout":"","html":"&lt;table&gt;...","plot":"iVBOR...","csv":"Item,Price\n..."}
{"type":"ERROR","error":"NameError: name 'x' is not defined","errorCode":"EXECUTION_ERROR"}</pre>
  <p>
    <code>csv</code> is present when the result is a DataFrame and becomes the tab's
    export. <code>plot</code> is a base64 PNG of the current matplotlib figure.
  </p>

  <h2>Errors</h2>
  <table>
    <tr><th>errorCode</th><th>meaning</th></tr>
    <tr><td><code>VALIDATION</code></td><td>Malformed envelope or missing field.</td></tr>
    <tr><td><code>TAB_NOT_FOUND</code></td><td>No tab with that id.</td></tr>
    <tr><td><code>EVAL_FAILURE</code></td><td>Page script failed.</td></tr>
    <tr><td><code>EVAL_TIMEOUT</code></td><td>Page script timed out.</td></tr>
    <tr><td><code>CDP_UNAVAILABLE</code></td><td>Browser connection lost.</td></tr>
    <tr><td><code>EXECUTION_ERROR</code></td><td>Python raised or the worker failed to start.</td></tr>
  </table>

  <h2>Worker events</h2>
  <p>
    <code>GET /api/v1/events</code> streams every worker message (<code>LOG</code>,
    <code>INIT_COMPLETE</code>, <code>RUN_COMPLETE</code>, <code>ERROR</code>) as
    server-sent events. Filter with <code>?types=LOG,ERROR</code>.
  </p>
</body>
</html>`
