package api

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Live Camera Uploader</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; margin: 2rem; max-width: 48rem; }
        label { display: block; margin-top: 1rem; }
        input { width: 100%; padding: 0.4rem; }
        button { margin-top: 1rem; padding: 0.5rem 1.5rem; }
        #results { font-family: monospace; font-size: 0.85rem; }
        .ok { color: #2e7d32; }
        .fail { color: #c62828; }
    </style>
</head>
<body>
    <h1>Live Camera Uploader</h1>

    <form id="settings-form" method="post" action="/api/settings">
        <label>Host address
            <input type="text" name="host_address" id="host_address" placeholder="http://">
        </label>
        <label>Frequency (seconds)
            <input type="number" name="interval_s" id="interval_s" min="0" value="5">
        </label>
        <button type="submit">Submit</button>
        <span id="form-status"></span>
    </form>

    <h2>Uploads</h2>
    <div id="results"></div>

    <script>
        const form = document.getElementById('settings-form');
        const status = document.getElementById('form-status');

        fetch('/api/settings').then(r => r.json()).then(s => {
            document.getElementById('host_address').value = s.host_address;
            document.getElementById('interval_s').value = s.interval_s;
        });

        form.addEventListener('submit', async (e) => {
            e.preventDefault();
            const resp = await fetch('/api/settings', {
                method: 'POST',
                headers: {'Content-Type': 'application/x-www-form-urlencoded'},
                body: new URLSearchParams(new FormData(form)),
            });
            const body = await resp.json();
            if (!resp.ok) {
                status.textContent = body.error;
            } else {
                status.textContent = body.updated ? 'Saved' : 'Host address is empty, nothing changed';
            }
        });

        const results = document.getElementById('results');
        const events = new EventSource('/api/uploads/stream');
        events.addEventListener('upload', (e) => {
            const r = JSON.parse(e.data);
            const line = document.createElement('div');
            line.className = r.ok ? 'ok' : 'fail';
            line.textContent = new Date(r.finished).toLocaleTimeString() + ' #' + r.frame_num + ' ' +
                r.transport + ' ' + r.target + ' ' + (r.ok ? r.status_code || 'ok' : r.error) +
                ' (' + r.duration_ms.toFixed(1) + ' ms)';
            results.prepend(line);
            while (results.childNodes.length > 50) {
                results.removeChild(results.lastChild);
            }
        });
    </script>
</body>
</html>
`
