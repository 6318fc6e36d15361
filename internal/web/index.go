package web

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Bank</title>
  <style>
    body { font-family: system-ui, sans-serif; background: #111; color: #eee; max-width: 720px; margin: 2rem auto; }
    .panel { border: 1px solid #7D56F4; border-radius: 8px; padding: 1rem 1.5rem; margin-bottom: 1rem; }
    .row { display: flex; justify-content: space-between; padding: .25rem 0; }
    .muted { color: #888; }
    .ok { color: #73F59F; }
    .err { color: #FF5F87; }
    input, select, button { background: #222; color: #eee; border: 1px solid #444; padding: .4rem; border-radius: 4px; }
    #log div { font-size: .9rem; padding: .15rem 0; }
  </style>
</head>
<body>
  <h1>Bank</h1>
  <div class="panel">
    <div class="row"><span class="muted">Account</span><span id="account">not connected</span></div>
    <div class="row"><span class="muted">Spendable</span><span id="spendable">-</span></div>
    <div class="row"><span class="muted">Fixed deposit</span><span id="fixed">-</span></div>
    <div class="row"><span class="muted">Bank total</span><span id="total">-</span></div>
  </div>
  <form class="panel" id="action">
    <select name="action">
      <option value="deposit">Deposit</option>
      <option value="withdraw">Withdraw</option>
      <option value="transfer">Transfer</option>
      <option value="fixed-deposit">Create fixed deposit</option>
      <option value="withdraw-fd">Withdraw fixed deposit</option>
    </select>
    <input name="amount" placeholder="amount, ETH" />
    <input name="recipient" placeholder="recipient 0x..." />
    <button type="submit">Send</button>
  </form>
  <div class="panel" id="log"></div>
  <script>
    const $ = (id) => document.getElementById(id);
    function render(state) {
      $('account').textContent = state.connected ? state.account : 'not connected';
      if (state.snapshot) {
        $('spendable').textContent = state.snapshot.spendable + ' ETH';
        $('fixed').textContent = state.snapshot.fixed_deposit + ' ETH';
        $('total').textContent = state.snapshot.contract_total + ' ETH';
      }
    }
    function log(text, cls) {
      const d = document.createElement('div');
      d.textContent = new Date().toLocaleTimeString() + ' ' + text;
      if (cls) d.className = cls;
      $('log').prepend(d);
    }
    fetch('/state').then(r => r.json()).then(render);
    const es = new EventSource('/events/stream');
    es.addEventListener('snapshot', (e) => {
      const ev = JSON.parse(e.data);
      render({ connected: true, account: ev.account, snapshot: ev.snapshot });
    });
    es.addEventListener('outcome', (e) => {
      const o = JSON.parse(e.data).outcome;
      log(o.kind + ' ' + o.status + (o.message ? ': ' + o.message : ''), o.status === 'confirmed' ? 'ok' : 'err');
      if (o.sync_message) log(o.sync_message, 'err');
    });
    es.addEventListener('sync_error', (e) => log(JSON.parse(e.data).message, 'err'));
    es.addEventListener('account_changed', (e) => {
      const ev = JSON.parse(e.data);
      log(ev.account ? 'account ' + ev.account : 'wallet disconnected');
      if (!ev.account) render({ connected: false });
    });
    $('action').addEventListener('submit', async (e) => {
      e.preventDefault();
      const f = new FormData(e.target);
      const resp = await fetch('/actions/' + f.get('action'), {
        method: 'POST',
        headers: { 'Content-Type': 'application/json' },
        body: JSON.stringify({ amount: f.get('amount'), recipient: f.get('recipient') }),
      });
      if (!resp.ok) log((await resp.json()).message, 'err');
    });
  </script>
</body>
</html>
`
