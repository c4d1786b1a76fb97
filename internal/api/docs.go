package api

// docsHTML renders /openapi.json with Stoplight Elements under a small nav
// bar linking the relay protocol page.
const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Pandas Table Scraper API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    html, body { height: 100%; margin: 0; background: #0d1117; }
    body { display: flex; flex-direction: column; }
    nav { display: flex; gap: 18px; align-items: center; padding: 8px 16px; background: #161b22; border-bottom: 1px solid #30363d; font: 500 13px -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; }
    nav strong { color: #f0f6fc; margin-right: auto; }
    nav a { color: #58a6ff; text-decoration: none; }
    main { flex: 1; min-height: 0; }
  </style>
</head>
<body>
  <nav>
    <strong>Pandas Table Scraper</strong>
    <a href="/docs/relay">Message Relay</a>
    <a href="/openapi.json">openapi.json</a>
  </nav>
  <main>
    <elements-api
      apiDescriptionUrl="/openapi.json"
      router="hash"
      layout="sidebar"
      tryItCredentialsPolicy="same-origin"
      darkMode
    />
  </main>
</body>
</html>`
