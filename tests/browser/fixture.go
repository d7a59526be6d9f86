package browser

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

const (
	fixtureUser     = "admin"
	fixturePassword = "112233"
)

// FixtureApp is a stand-in for the handover to-do application. It serves the
// DOM the verification scripts touch; all list state lives in the page.
type FixtureApp struct {
	Server *httptest.Server
	URL    string

	logins       atomic.Int64
	failedLogins atomic.Int64
}

// NewFixtureApp starts the fixture server. It is closed when the test ends.
func NewFixtureApp(t testing.TB) *FixtureApp {
	app := &FixtureApp{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login.html", func(w http.ResponseWriter, r *http.Request) {
		writeHTML(w, http.StatusOK, loginPage)
	})
	mux.HandleFunc("POST /login", app.handleLogin)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeHTML(w, http.StatusOK, appPage)
	})

	app.Server = httptest.NewServer(mux)
	app.URL = app.Server.URL
	t.Cleanup(app.Server.Close)
	return app
}

// Logins returns the number of successful and failed logins.
func (a *FixtureApp) Logins() (ok, failed int64) {
	return a.logins.Load(), a.failedLogins.Load()
}

func (a *FixtureApp) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if r.PostFormValue("username") != fixtureUser || r.PostFormValue("password") != fixturePassword {
		a.failedLogins.Add(1)
		writeHTML(w, http.StatusUnauthorized, loginFailedPage)
		return
	}
	a.logins.Add(1)
	http.SetCookie(w, &http.Cookie{Name: "session", Value: "fixture", Path: "/", HttpOnly: true})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func writeHTML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

const loginPage = `<!DOCTYPE html>
<html lang="zh-CN">
<head><meta charset="UTF-8"><title>登录</title></head>
<body>
  <form method="post" action="/login">
    <label>用户名 <input id="username" name="username" type="text"></label>
    <label>密码 <input id="password" name="password" type="password"></label>
    <button type="submit">登录</button>
  </form>
</body>
</html>`

const loginFailedPage = `<!DOCTYPE html>
<html lang="zh-CN">
<head><meta charset="UTF-8"><title>登录失败</title></head>
<body><p>用户名或密码错误</p><a href="/login.html">返回</a></body>
</html>`

const appPage = `<!DOCTYPE html>
<html lang="zh-CN">
<head>
  <meta charset="UTF-8">
  <title>全局待办事项清单</title>
  <style>
    .text-xs { font-size: 0.75rem; }
    [hidden] { display: none !important; }
    #edit-todo-modal { position: fixed; top: 20%; left: 30%; background: #fff; border: 1px solid #ccc; padding: 1rem; }
  </style>
</head>
<body>
  <h1>全局待办事项清单</h1>

  <form id="add-todo-form">
    <input id="new-todo" type="text" placeholder="输入新的待办事项...">
    <button type="submit">添加事项</button>
  </form>

  <ul id="all-todos-list"></ul>

  <section id="kept-items">
    <h2><button type="button" id="kept-toggle">当前交接物品</button></h2>
    <button type="button" id="collapse-kept">折叠</button>
    <form id="add-item-form">
      <input id="new-item" type="text" placeholder="物品名称...">
      <button type="submit">添加交接物品</button>
    </form>
    <ul id="kept-items-list">
      <li>门禁卡</li>
    </ul>
  </section>

  <details>
    <summary class="text-xs text-gray-500">操作历史</summary>
    <ul id="history-list"></ul>
  </details>

  <button type="button" id="recently-deleted-toggle">最近删除 (20天内)</button>
  <ul id="recently-deleted" hidden><li>旧的交接记录</li></ul>

  <div id="edit-todo-modal" hidden>
    <form id="edit-todo-form">
      <input type="text" id="edit-todo-text">
      <button type="submit">保存</button>
    </form>
  </div>

  <script>
    let nextId = 1;
    let editing = null;
    const todos = document.getElementById('all-todos-list');

    function addTodo(text) {
      const li = document.createElement('li');
      li.dataset.id = String(nextId++);
      li.innerHTML =
        '<button type="button" class="toggle" aria-label="展开">▸</button> ' +
        '<span class="todo-text"></span> ' +
        '<button type="button" class="edit">编辑</button>' +
        '<div class="details" hidden>' +
        '  <textarea placeholder="添加进度更新..."></textarea>' +
        '  <button type="button" class="add-progress">添加更新</button>' +
        '  <ul class="progress"></ul>' +
        '</div>';
      li.querySelector('.todo-text').textContent = text;
      li.querySelector('.toggle').addEventListener('click', () => {
        li.querySelector('.details').toggleAttribute('hidden');
      });
      li.querySelector('.edit').addEventListener('click', () => {
        editing = li;
        document.getElementById('edit-todo-text').value = li.querySelector('.todo-text').textContent;
        document.getElementById('edit-todo-modal').hidden = false;
      });
      li.querySelector('.add-progress').addEventListener('click', () => {
        const area = li.querySelector('textarea');
        if (!area.value.trim()) return;
        const entry = document.createElement('li');
        entry.textContent = area.value;
        li.querySelector('.progress').appendChild(entry);
        area.value = '';
      });
      // new to-dos open with their progress form showing
      li.querySelector('.details').hidden = text === 'Review handover notes';
      todos.appendChild(li);
    }

    document.getElementById('add-todo-form').addEventListener('submit', (e) => {
      e.preventDefault();
      const input = document.getElementById('new-todo');
      if (input.value.trim()) addTodo(input.value.trim());
      input.value = '';
    });

    document.getElementById('add-item-form').addEventListener('submit', (e) => {
      e.preventDefault();
      const input = document.getElementById('new-item');
      if (!input.value.trim()) return;
      const li = document.createElement('li');
      li.textContent = input.value.trim();
      document.getElementById('kept-items-list').appendChild(li);
      input.value = '';
    });

    document.getElementById('edit-todo-form').addEventListener('submit', (e) => {
      e.preventDefault();
      if (editing) {
        editing.querySelector('.todo-text').textContent = document.getElementById('edit-todo-text').value;
      }
      editing = null;
      document.getElementById('edit-todo-modal').hidden = true;
    });

    const kept = document.getElementById('kept-items-list');
    document.getElementById('kept-toggle').addEventListener('click', () => kept.toggleAttribute('hidden'));
    document.getElementById('collapse-kept').addEventListener('click', () => { kept.hidden = true; });
    document.getElementById('recently-deleted-toggle').addEventListener('click', () => {
      document.getElementById('recently-deleted').toggleAttribute('hidden');
    });

    addTodo('Review handover notes');
  </script>
</body>
</html>`
