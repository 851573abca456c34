package tools

import "html/template"

var panelTemplate = template.Must(template.New("panel").Parse(`<section class="tool-panel" data-tool="{{.Tool.ID}}">
  <h2><i class="bi {{.Tool.Icon}}"></i> {{.Tool.Name}}</h2>
  <p class="tool-description">{{.Tool.Description}}</p>
  <form class="tool-form" method="post" action="{{.Endpoint}}" enctype="multipart/form-data">
{{- range .Fields}}
    <label>{{.Label}}
      <input name="{{.Name}}" type="{{.Type}}"{{if .Accept}} accept="{{.Accept}}"{{end}}{{if .Multiple}} multiple{{end}}{{if .Value}} value="{{.Value}}"{{end}}>
    </label>
{{- end}}
    <button type="submit">{{.Tool.Name}}</button>
  </form>
  <div class="tool-output" hidden></div>
  <div class="tool-help">{{.Help}}</div>
</section>`))

var compressorTemplate = template.Must(template.New("compressor").Parse(`<section class="tool-panel" data-tool="{{.Tool.ID}}">
  <h2><i class="bi {{.Tool.Icon}}"></i> {{.Tool.Name}}</h2>
  <p class="tool-description">{{.Tool.Description}}</p>
{{- range .Sections}}
  <div class="section section-{{.}}" data-section="{{.}}"{{if ne . $.Initial}} hidden{{end}}>
  {{- if eq (print .) "upload"}}
    <div class="dropzone"><input type="file" name="file" accept="application/pdf,.pdf"><p>Drop a PDF here or click to choose one</p></div>
  {{- else if eq (print .) "preview"}}
    <div class="file-info"><span class="file-name"></span> <span class="file-size"></span></div>
    <button data-action="compress">Compress PDF</button> <button data-action="cancel">Cancel</button>
  {{- else if eq (print .) "processing"}}
    <div class="progress"><div class="progress-bar"></div></div><p class="status-text"></p>
  {{- else if eq (print .) "results"}}
    <p class="summary"></p>
    <button data-action="download">Download</button> <button data-action="reset">Compress another</button>
  {{- else}}
    <p class="error-message"></p><button data-action="reset">Try again</button>
  {{- end}}
  </div>
{{- end}}
  <div class="tool-help">{{.Help}}</div>
</section>`))

var errorTemplate = template.Must(template.New("error").Parse(`<div class="error-panel">
  <h3>{{.Title}}</h3>
  <p>{{.Message}}</p>
{{- if .Detail}}
  <p class="error-detail">{{.Detail}}</p>
{{- end}}
</div>`))
